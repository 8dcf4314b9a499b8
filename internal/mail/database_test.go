package mail

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/coramo123/mail-scanner/internal/scanning"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	newResult := func(user, id string, uploaded time.Time) *Result {
		return &Result{
			ID:          id,
			UserID:      user,
			Filename:    id + ".jpg",
			StoredFile:  id + "_" + id + ".jpg",
			ContentType: "image/jpeg",
			ScanRecord: scanning.NewScanRecord(scanning.Fields{
				SenderName: scanning.StringPtr("Jane Doe"),
				Street:     scanning.StringPtr("123 Main St"),
			}, scanning.MethodLocalOCR),
			UploadedAt: uploaded,
			UpdatedAt:  uploaded,
		}
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveResult", func() {
		var (
			result *Result
			err    error
		)

		BeforeEach(func() {
			result = newResult("alice", "r1", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveResult(result)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round trip the scan record", func() {
				saved, getErr := db.GetResult("alice", "r1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(*saved.SenderName).To(Equal("Jane Doe"))
				Expect(*saved.FullAddress).To(Equal("123 Main St"))
				Expect(saved.City).To(BeNil())
				Expect(saved.Method).To(Equal(scanning.MethodLocalOCR))
				Expect(saved.Status).To(Equal(scanning.StatusNotAttempted))
				Expect(saved.UploadedAt.Equal(result.UploadedAt)).To(BeTrue())
			})
		})

		When("the result has no user", func() {
			BeforeEach(func() {
				result.UserID = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetResult", func() {
		BeforeEach(func() {
			Expect(db.SaveResult(newResult("alice", "r1", time.Now()))).To(Succeed())
		})

		When("the result exists", func() {
			It("should return it", func() {
				result, err := db.GetResult("alice", "r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(result.ID).To(Equal("r1"))
			})
		})

		When("the result does not exist", func() {
			It("should return ErrResultNotFound", func() {
				_, err := db.GetResult("alice", "missing")
				Expect(err).To(MatchError(ErrResultNotFound))
			})
		})

		When("another user asks for it", func() {
			It("should return ErrResultNotFound", func() {
				_, err := db.GetResult("bob", "r1")
				Expect(err).To(MatchError(ErrResultNotFound))
			})
		})
	})

	Describe("ListResults", func() {
		When("results exist", func() {
			BeforeEach(func() {
				base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
				Expect(db.SaveResult(newResult("alice", "old", base))).To(Succeed())
				Expect(db.SaveResult(newResult("alice", "new", base.Add(2*time.Hour)))).To(Succeed())
				Expect(db.SaveResult(newResult("alice", "mid", base.Add(time.Hour)))).To(Succeed())
				Expect(db.SaveResult(newResult("bob", "other", base))).To(Succeed())
			})

			It("should return the user's results newest first", func() {
				results, err := db.ListResults("alice")
				Expect(err).NotTo(HaveOccurred())
				ids := []string{}
				for _, r := range results {
					ids = append(ids, r.ID)
				}
				Expect(ids).To(Equal([]string{"new", "mid", "old"}))
			})
		})

		When("the user has no results", func() {
			It("should return an empty slice", func() {
				results, err := db.ListResults("nobody")
				Expect(err).NotTo(HaveOccurred())
				Expect(results).NotTo(BeNil())
				Expect(results).To(BeEmpty())
			})
		})
	})

	Describe("DeleteResult", func() {
		BeforeEach(func() {
			Expect(db.SaveResult(newResult("alice", "r1", time.Now()))).To(Succeed())
		})

		It("should remove the result", func() {
			Expect(db.DeleteResult("alice", "r1")).To(Succeed())
			_, err := db.GetResult("alice", "r1")
			Expect(err).To(MatchError(ErrResultNotFound))
		})

		It("should return ErrResultNotFound for unknown ids", func() {
			Expect(db.DeleteResult("alice", "missing")).To(MatchError(ErrResultNotFound))
		})
	})

	Describe("ClearResults", func() {
		BeforeEach(func() {
			Expect(db.SaveResult(newResult("alice", "r1", time.Now()))).To(Succeed())
			Expect(db.SaveResult(newResult("alice", "r2", time.Now()))).To(Succeed())
			Expect(db.SaveResult(newResult("bob", "r3", time.Now()))).To(Succeed())
		})

		It("should return and remove only the user's results", func() {
			cleared, err := db.ClearResults("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cleared).To(HaveLen(2))

			remaining, err := db.ListResults("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(remaining).To(BeEmpty())

			others, err := db.ListResults("bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(others).To(HaveLen(1))
		})

		It("should return every result it drops", func() {
			cleared, err := db.ClearResults("alice")
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, r := range cleared {
				ids = append(ids, r.ID)
			}
			Expect(ids).To(ConsistOf("r1", "r2"))

			cleared, err = db.ClearResults("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(cleared).To(BeEmpty())
		})

		It("should allow saving again afterwards", func() {
			_, err := db.ClearResults("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(db.SaveResult(newResult("alice", "r4", time.Now()))).To(Succeed())
		})
	})

	Describe("Usage", func() {
		It("should start at zero", func() {
			used, err := db.Usage("alice", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(BeZero())
		})

		It("should accumulate increments per user and period", func() {
			Expect(db.IncrementUsage("alice", "2025-03", 3)).To(Succeed())
			Expect(db.IncrementUsage("alice", "2025-03", 2)).To(Succeed())
			Expect(db.IncrementUsage("alice", "2025-04", 7)).To(Succeed())

			used, err := db.Usage("alice", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal(5))

			used, err = db.Usage("bob", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(BeZero())
		})

		It("should never drop below zero", func() {
			Expect(db.IncrementUsage("alice", "2025-03", 2)).To(Succeed())
			Expect(db.IncrementUsage("alice", "2025-03", -5)).To(Succeed())

			used, err := db.Usage("alice", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(BeZero())
		})
	})

	Describe("ReserveUsage", func() {
		It("should reserve up to the limit and no further", func() {
			used, ok, err := db.ReserveUsage("alice", "2025-03", 8, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(used).To(BeZero())

			used, ok, err = db.ReserveUsage("alice", "2025-03", 3, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(used).To(Equal(8))

			total, err := db.Usage("alice", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(8))
		})

		It("should ignore the limit when it is negative", func() {
			_, ok, err := db.ReserveUsage("alice", "2025-03", 5000, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("should serialize concurrent reservations", func() {
			var (
				wg       sync.WaitGroup
				accepted atomic.Int32
			)
			for range 25 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, err := db.ReserveUsage("alice", "2025-03", 1, 10); err == nil && ok {
						accepted.Add(1)
					}
				}()
			}
			wg.Wait()

			Expect(accepted.Load()).To(Equal(int32(10)))
			total, err := db.Usage("alice", "2025-03")
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(10))
		})
	})

	Describe("persistence", func() {
		It("should keep results across reopen", func() {
			Expect(db.SaveResult(newResult("alice", "r1", time.Now()))).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetResult("alice", "r1")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
