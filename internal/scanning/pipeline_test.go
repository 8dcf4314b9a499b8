package scanning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func pngBytes() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)))).To(Succeed())
	return buf.Bytes()
}

// fakeExtractor returns fixed fields or an error
type fakeExtractor struct {
	fields Fields
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, img *Image) (Fields, error) {
	f.calls++
	return f.fields, f.err
}

// countingVerifier returns a fixed outcome and counts calls
type countingVerifier struct {
	outcome VerificationOutcome
	calls   int
	last    Address
}

func (v *countingVerifier) Verify(ctx context.Context, addr Address) VerificationOutcome {
	v.calls++
	v.last = addr
	return v.outcome
}

// recordingObserver captures observed scans
type recordingObserver struct {
	records []*ScanRecord
	errs    []error
}

func (o *recordingObserver) ObserveScan(record *ScanRecord, d time.Duration, err error) {
	o.records = append(o.records, record)
	o.errs = append(o.errs, err)
}

var _ = Describe("Pipeline", func() {
	var (
		vision   *fakeExtractor
		ocr      *fakeExtractor
		verifier *countingVerifier
		observer *recordingObserver
		opts     []Option
		pipeline *Pipeline
		src      Source
		record   *ScanRecord
		err      error
	)

	BeforeEach(func() {
		vision = &fakeExtractor{fields: Fields{
			SenderName: StringPtr("Tim Cook"),
			Street:     StringPtr("1 Infinite Loop"),
			City:       StringPtr("Cupertino"),
			State:      StringPtr("CA"),
			Zip:        StringPtr("95014"),
			Category:   StringPtr(CategoryFanLetters),
		}}
		ocr = &fakeExtractor{fields: parseAddressText("Jane Doe\n123 Main St\nSpringfield, IL 62704")}
		verifier = &countingVerifier{outcome: CandidateOutcome(StatusVerified, "1 INFINITE LOOP", "CUPERTINO", "CA", "95014")}
		observer = &recordingObserver{}
		opts = []Option{WithVision(vision), WithLocalOCR(ocr), WithVerifier(verifier), WithObserver(observer)}
		src = BytesSource("envelope.png", pngBytes(), "image/png")
	})

	JustBeforeEach(func() {
		pipeline = NewPipeline(NewImageLoader(true, true), opts...)
		record, err = pipeline.Scan(context.Background(), src)
	})

	When("the vision model succeeds", func() {
		It("should return a verified record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Method).To(Equal(MethodVision))
			Expect(*record.FullAddress).To(Equal("1 Infinite Loop, Cupertino, CA, 95014"))
			Expect(record.Status).To(Equal(StatusVerified))
			Expect(*record.Verified).To(BeTrue())
			Expect(*record.VerifiedFullAddress).To(Equal("1 INFINITE LOOP, CUPERTINO, CA 95014"))
		})

		It("should send the extracted address to the verifier", func() {
			Expect(verifier.last).To(Equal(Address{Street: "1 Infinite Loop", City: "Cupertino", State: "CA", Zip: "95014"}))
		})

		It("should not run OCR", func() {
			Expect(ocr.calls).To(BeZero())
		})

		It("should notify the observer", func() {
			Expect(observer.records).To(HaveLen(1))
			Expect(observer.errs[0]).NotTo(HaveOccurred())
		})
	})

	When("the vision model fails", func() {
		BeforeEach(func() {
			vision.err = &ScanError{Op: "vision.fake", Err: ErrVisionUnavailable}
		})

		It("should fall back to local OCR", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Method).To(Equal(MethodLocalOCR))
			Expect(*record.SenderName).To(Equal("Jane Doe"))
			Expect(*record.Street).To(Equal("123 Main St"))
			Expect(*record.City).To(Equal("Springfield"))
			Expect(*record.State).To(Equal("IL"))
			Expect(*record.Zip).To(Equal("62704"))
			Expect(record.Category).To(BeNil())
		})

		When("no OCR is configured", func() {
			BeforeEach(func() {
				opts = []Option{WithVision(vision), WithVerifier(verifier)}
			})

			It("should return ErrExtractionUnavailable wrapping the vision error", func() {
				Expect(err).To(MatchError(ErrExtractionUnavailable))
				Expect(err).To(MatchError(ErrVisionUnavailable))
				Expect(record).To(BeNil())
				Expect(verifier.calls).To(BeZero())
			})
		})

		When("OCR fails too", func() {
			BeforeEach(func() {
				ocr.err = errors.New("tesseract crashed")
			})

			It("should return ErrExtractionUnavailable", func() {
				Expect(err).To(MatchError(ErrExtractionUnavailable))
				Expect(err).To(MatchError(ContainSubstring("tesseract crashed")))
			})
		})
	})

	When("vision is disabled", func() {
		BeforeEach(func() {
			opts = []Option{WithLocalOCR(ocr), WithVerifier(verifier)}
		})

		It("should use local OCR", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Method).To(Equal(MethodLocalOCR))
		})
	})

	When("no extractor is configured", func() {
		BeforeEach(func() {
			opts = nil
		})

		It("should return ErrExtractionUnavailable", func() {
			Expect(err).To(MatchError(ErrExtractionUnavailable))
		})
	})

	When("verification is disabled", func() {
		BeforeEach(func() {
			opts = []Option{WithVision(vision)}
		})

		It("should report not_attempted", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Status).To(Equal(StatusNotAttempted))
			Expect(record.Verified).To(BeNil())
			Expect(record.VerifiedStreet).To(BeNil())
		})
	})

	When("the street is missing", func() {
		BeforeEach(func() {
			vision.fields.Street = nil
		})

		It("should report insufficient_data without calling the verifier", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Status).To(Equal(StatusInsufficientData))
			Expect(record.Verified).To(BeNil())
			Expect(verifier.calls).To(BeZero())
		})

		It("should still build the full address from the rest", func() {
			Expect(*record.FullAddress).To(Equal("Cupertino, CA, 95014"))
		})
	})

	When("the vision reply had nothing usable", func() {
		BeforeEach(func() {
			vision.fields = Fields{}
		})

		It("should return an all-null record", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(record.SenderName).To(BeNil())
			Expect(record.FullAddress).To(BeNil())
			Expect(record.Category).To(BeNil())
			Expect(record.Status).To(Equal(StatusInsufficientData))
		})
	})

	When("the image does not exist", func() {
		BeforeEach(func() {
			src = FileSource("/no/such/envelope.jpg")
		})

		It("should return ErrNotFound", func() {
			Expect(err).To(MatchError(ErrNotFound))
			Expect(vision.calls).To(BeZero())
		})

		It("should report the failure to the observer", func() {
			Expect(observer.errs).To(HaveLen(1))
			Expect(observer.errs[0]).To(MatchError(ErrNotFound))
		})
	})

	Describe("WithoutVerification", func() {
		It("should skip the verifier for one scan", func() {
			calls := verifier.calls
			r, scanErr := pipeline.Scan(context.Background(), src, WithoutVerification())
			Expect(scanErr).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(StatusNotAttempted))
			Expect(verifier.calls).To(Equal(calls))
		})
	})

	Describe("Verify", func() {
		It("should be idempotent with a deterministic verifier", func() {
			first := pipeline.Verify(context.Background(), *record)
			second := pipeline.Verify(context.Background(), first)
			Expect(second).To(Equal(first))
		})

		It("should keep the extracted fields", func() {
			verifier.outcome = Outcome(StatusInvalid)
			verified := pipeline.Verify(context.Background(), *record)
			Expect(verified.Fields()).To(Equal(record.Fields()))
			Expect(verified.Status).To(Equal(StatusInvalid))
			Expect(*verified.Verified).To(BeFalse())
		})
	})
})
