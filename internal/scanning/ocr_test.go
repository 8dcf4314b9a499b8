package scanning

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeRecognizer is a TextRecognizer returning canned text
type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, pngData []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Close() error { return nil }

var _ = Describe("parseAddressText", func() {
	It("should read name, street and city line", func() {
		fields := parseAddressText("Jane Doe\n123 Main St\nSpringfield, IL 62704\n")
		Expect(*fields.SenderName).To(Equal("Jane Doe"))
		Expect(*fields.Street).To(Equal("123 Main St"))
		Expect(*fields.City).To(Equal("Springfield"))
		Expect(*fields.State).To(Equal("IL"))
		Expect(*fields.Zip).To(Equal("62704"))
		Expect(fields.Category).To(BeNil())
	})

	It("should skip blank lines", func() {
		fields := parseAddressText("\n\n  Jane Doe  \n\n123 Main St\n")
		Expect(*fields.SenderName).To(Equal("Jane Doe"))
		Expect(*fields.Street).To(Equal("123 Main St"))
		Expect(fields.Zip).To(BeNil())
	})

	It("should keep ZIP+4", func() {
		fields := parseAddressText("Bob\n1 Elm\nAustin, TX 78701-1234")
		Expect(*fields.Zip).To(Equal("78701-1234"))
		Expect(*fields.City).To(Equal("Austin"))
	})

	It("should take a zip without a city and state", func() {
		fields := parseAddressText("Bob\n1 Elm\n78701")
		Expect(*fields.Zip).To(Equal("78701"))
		Expect(fields.City).To(BeNil())
		Expect(fields.State).To(BeNil())
	})

	It("should return all nil for empty text", func() {
		Expect(parseAddressText("   \n")).To(Equal(Fields{}))
	})
})

var _ = Describe("LocalOCRExtractor", func() {
	var (
		recognizer *fakeRecognizer
		extractor  *LocalOCRExtractor
	)

	BeforeEach(func() {
		recognizer = &fakeRecognizer{text: "Jane Doe\n123 Main St\nSpringfield, IL 62704"}
		extractor = NewLocalOCRExtractor(recognizer)
	})

	It("should parse recognized text", func() {
		fields, err := extractor.Extract(context.Background(), &Image{PNG: []byte("png")})
		Expect(err).NotTo(HaveOccurred())
		Expect(*fields.Street).To(Equal("123 Main St"))
	})

	When("the recognizer fails", func() {
		BeforeEach(func() {
			recognizer.err = errors.New("engine crashed")
		})

		It("should return a ScanError naming the engine", func() {
			_, err := extractor.Extract(context.Background(), &Image{PNG: []byte("png")})
			var scanErr *ScanError
			Expect(errors.As(err, &scanErr)).To(BeTrue())
			Expect(scanErr.Op).To(Equal("ocr.fake"))
			Expect(err).To(MatchError(ContainSubstring("engine crashed")))
		})
	})
})
