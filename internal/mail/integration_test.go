package mail_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/coramo123/mail-scanner/internal/address"
	"github.com/coramo123/mail-scanner/internal/billing"
	"github.com/coramo123/mail-scanner/internal/mail"
	"github.com/coramo123/mail-scanner/internal/metrics"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

// scriptedModel is a VisionModel returning a fixed reply
type scriptedModel struct {
	reply string
	err   error
	calls atomic.Int32
}

func (m *scriptedModel) Generate(ctx context.Context, pngData []byte, prompt string) (string, error) {
	m.calls.Add(1)
	if len(pngData) == 0 {
		return "", errors.New("empty image")
	}
	return m.reply, m.err
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) Close() error { return nil }

func jpegPhoto() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		db       *mail.BoltDB
		store    *mail.LocalStorage
		model    *scriptedModel
		smarty   *ghttp.Server
		server   *mail.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = mail.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = mail.NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		model = &scriptedModel{reply: "```json\n" + `{
			"sender_name": "Tim Cook",
			"street": "1 Infinite Loop",
			"city": "Cupertino",
			"state": "CA",
			"zip": "95014",
			"category": "fan letter"
		}` + "\n```"}

		smarty = ghttp.NewServer()
		smarty.RouteToHandler(http.MethodGet, "/street-address", ghttp.CombineHandlers(
			ghttp.VerifyFormKV("street", "1 Infinite Loop"),
			ghttp.VerifyFormKV("match", "strict"),
			ghttp.RespondWith(http.StatusOK, `[{
				"delivery_line_1": "1 INFINITE LOOP",
				"components": {"city_name": "CUPERTINO", "state_abbreviation": "CA", "zipcode": "95014"},
				"analysis": {"dpv_match_code": "Y"}
			}]`),
		))

		m := metrics.New()
		pipeline := scanning.NewPipeline(
			scanning.NewImageLoader(true, true),
			scanning.WithVision(scanning.NewVisionExtractor(model, 5*time.Second, scanning.DefaultBreakerConfig())),
			scanning.WithVerifier(address.NewSmarty(address.Config{
				AuthID:    "id",
				AuthToken: "token",
				BaseURL:   smarty.URL(),
			})),
			scanning.WithObserver(m),
		)

		plan, err := billing.FindPlan("starter")
		Expect(err).NotTo(HaveOccurred())
		gate := billing.NewGate(db, billing.StaticPlan{Plan: plan})

		service := mail.NewService(db, pipeline, store, gate, mail.BatchConfig{Workers: 2, ScansPerSecond: 50})
		server = mail.NewServer(service, mail.BasicAuth{}, m)

		ghServer = ghttp.NewServer()
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if smarty != nil {
			smarty.Close()
		}
		if db != nil {
			db.Close()
		}
	})

	It("should upload, scan, verify, save and export a photo", func() {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for _, name := range []string{"envelope.jpg", "readme.txt"} {
			part, err := writer.CreateFormFile("files", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(jpegPhoto())
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/scans", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var batch mail.BatchResult
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &batch)).To(Succeed())

		Expect(batch.ScannedCount).To(Equal(1))
		Expect(batch.TotalResults).To(Equal(1))
		Expect(batch.Errors).To(ConsistOf("readme.txt: Invalid file type"))

		result := batch.Results[0]
		Expect(result.Method).To(Equal(scanning.MethodVision))
		Expect(*result.Category).To(Equal(scanning.CategoryFanLetters))
		Expect(*result.FullAddress).To(Equal("1 Infinite Loop, Cupertino, CA, 95014"))
		Expect(result.Status).To(Equal(scanning.StatusVerified))
		Expect(*result.Verified).To(BeTrue())
		Expect(*result.VerifiedFullAddress).To(Equal("1 INFINITE LOOP, CUPERTINO, CA 95014"))

		// The upload and the record were persisted
		saved, err := db.GetResult(mail.DefaultUser, result.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Status).To(Equal(scanning.StatusVerified))
		_, err = store.Get(saved.StoredFile)
		Expect(err).NotTo(HaveOccurred())

		// Usage was counted
		used, err := db.Usage(mail.DefaultUser, time.Now().UTC().Format("2006-01"))
		Expect(err).NotTo(HaveOccurred())
		Expect(used).To(Equal(1))

		// Export the saved result
		csvResp, err := http.Get(ghServer.URL() + "/api/export/csv")
		Expect(err).NotTo(HaveOccurred())
		defer csvResp.Body.Close()
		csvBody, err := io.ReadAll(csvResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(csvBody)).To(ContainSubstring("envelope.jpg,Tim Cook,1 Infinite Loop,Cupertino,CA,95014"))
		Expect(string(csvBody)).To(ContainSubstring("1 INFINITE LOOP, CUPERTINO, CA 95014"))

		// Scan metrics were recorded
		metricsResp, err := http.Get(ghServer.URL() + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer metricsResp.Body.Close()
		metricsBody, err := io.ReadAll(metricsResp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(metricsBody)).To(ContainSubstring(`mail_scanner_scan_total{method="vision"} 1`))
		Expect(string(metricsBody)).To(ContainSubstring(`mail_scanner_verification_total{status="verified"} 1`))

		Expect(model.calls.Load()).To(Equal(int32(1)))
		Expect(smarty.ReceivedRequests()).To(HaveLen(1))
	})
})
