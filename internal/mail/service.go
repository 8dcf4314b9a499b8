package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coramo123/mail-scanner/internal/billing"
	"github.com/coramo123/mail-scanner/internal/export"
	"github.com/coramo123/mail-scanner/internal/scanning"
)

// DefaultWorkers is the number of images scanned at once when not configured
const DefaultWorkers = 4

// allowedExtensions are the upload types accepted by ProcessUploads
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".heic": true,
	".heif": true,
	".pdf":  true,
}

// Scanner scans mail images and re-verifies stored records
type Scanner interface {
	Scan(ctx context.Context, src scanning.Source, opts ...scanning.ScanOption) (*scanning.ScanRecord, error)
	Verify(ctx context.Context, record scanning.ScanRecord) scanning.ScanRecord
}

// IDGenerator generates unique IDs for results
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Upload is one file received for scanning
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
}

// BatchConfig bounds how hard a batch may push the external services
type BatchConfig struct {
	// Workers is the number of concurrent scans. Zero uses DefaultWorkers.
	Workers int
	// ScansPerSecond paces scan starts. Zero disables pacing.
	ScansPerSecond int
}

// Service handles scan result operations
type Service struct {
	db          DB
	scanner     Scanner
	storage     Storage
	gate        *billing.Gate
	workers     int
	limiter     *rate.Limiter
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid IDs and the wall clock.
// A nil gate disables plan limits.
func NewService(db DB, scanner Scanner, storage Storage, gate *billing.Gate, cfg BatchConfig) *Service {
	return NewServiceWithDeps(db, scanner, storage, gate, cfg, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner Scanner, storage Storage, gate *billing.Gate, cfg BatchConfig, idGen IDGenerator, timeSrc TimeSource) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.ScansPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ScansPerSecond), cfg.ScansPerSecond)
	}
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		gate:        gate,
		workers:     workers,
		limiter:     limiter,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = whitespace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "scan"
	}
	return base + ext
}

func allowedFile(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ProcessUploads stores, scans and saves a batch of uploads for the user.
// A failing file is reported in BatchResult.Errors and never aborts the batch.
func (s *Service) ProcessUploads(ctx context.Context, userID string, uploads []Upload) (*BatchResult, error) {
	batch := &BatchResult{
		TotalFiles: len(uploads),
		Results:    make([]*Result, 0, len(uploads)),
	}

	valid := make([]int, 0, len(uploads))
	errs := make([]string, len(uploads))
	for i, u := range uploads {
		if !allowedFile(u.Filename) {
			errs[i] = fmt.Sprintf("%s: Invalid file type", u.Filename)
			continue
		}
		valid = append(valid, i)
	}

	verify := true
	var reservation *billing.Reservation
	if s.gate != nil && len(valid) > 0 {
		var err error
		reservation, err = s.gate.Reserve(userID, len(valid))
		if err != nil {
			return nil, err
		}
		verify = reservation.Plan.Verification
	}

	results := make([]*Result, len(uploads))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, i := range valid {
		g.Go(func() error {
			result, err := s.processUpload(ctx, userID, uploads[i], verify)
			if err != nil {
				slog.Error("Failed to process upload",
					"user", userID,
					"filename", uploads[i].Filename,
					"content_type", uploads[i].ContentType,
					"file_size", len(uploads[i].Data),
					"error", err,
				)
				errs[i] = fmt.Sprintf("%s: %s", uploads[i].Filename, err)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	g.Wait()

	for i := range uploads {
		if results[i] != nil {
			batch.Results = append(batch.Results, results[i])
		}
		if errs[i] != "" {
			batch.Errors = append(batch.Errors, errs[i])
		}
	}
	batch.ScannedCount = len(batch.Results)

	if reservation != nil {
		if err := reservation.Settle(batch.ScannedCount); err != nil {
			slog.Warn("Failed to release unused scans", "user", userID, "error", err)
		}
	}

	all, err := s.db.ListResults(userID)
	if err != nil {
		slog.Warn("Failed to count results", "user", userID, "error", err)
	}
	batch.TotalResults = len(all)

	return batch, nil
}

func (s *Service) processUpload(ctx context.Context, userID string, u Upload, verify bool) (*Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	id := s.idGenerator.Generate()
	stored, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(u.Filename)), u.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	var opts []scanning.ScanOption
	if !verify {
		opts = append(opts, scanning.WithoutVerification())
	}
	record, err := s.scanner.Scan(ctx, scanning.BytesSource(u.Filename, u.Data, u.ContentType), opts...)
	if err != nil {
		s.removeFile(stored)
		return nil, err
	}

	now := s.timeSource.Now()
	result := &Result{
		ID:          id,
		UserID:      userID,
		Filename:    u.Filename,
		StoredFile:  stored,
		ContentType: u.ContentType,
		ScanRecord:  *record,
		UploadedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveResult(result); err != nil {
		s.removeFile(stored)
		return nil, fmt.Errorf("saving result to database: %w", err)
	}
	return result, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// Reverify runs address verification again on a stored result and saves the outcome
func (s *Service) Reverify(ctx context.Context, userID, id string) (*Result, error) {
	if s.gate != nil {
		if err := s.gate.RequireVerification(userID); err != nil {
			return nil, err
		}
	}

	result, err := s.db.GetResult(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}

	result.ScanRecord = s.scanner.Verify(ctx, result.ScanRecord)
	result.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveResult(result); err != nil {
		return nil, fmt.Errorf("saving result: %w", err)
	}
	return result, nil
}

// GetResult retrieves a result by ID
func (s *Service) GetResult(userID, id string) (*Result, error) {
	result, err := s.db.GetResult(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting result: %w", err)
	}
	return result, nil
}

// ListResults returns the user's results, newest first
func (s *Service) ListResults(userID string) ([]*Result, error) {
	results, err := s.db.ListResults(userID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	return results, nil
}

// GetResultFile retrieves the uploaded file of a result
func (s *Service) GetResultFile(userID, id string) ([]byte, string, error) {
	result, err := s.db.GetResult(userID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting result: %w", err)
	}

	data, err := s.storage.Get(result.StoredFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting result file: %w", err)
	}
	return data, result.ContentType, nil
}

// DeleteResult removes a result and its file
func (s *Service) DeleteResult(userID, id string) error {
	result, err := s.db.GetResult(userID, id)
	if err != nil {
		return fmt.Errorf("getting result for deletion: %w", err)
	}

	s.removeFile(result.StoredFile)

	if err := s.db.DeleteResult(userID, id); err != nil {
		return fmt.Errorf("deleting result from database: %w", err)
	}
	return nil
}

// ClearResults removes all of the user's results and files, returning how many were removed
func (s *Service) ClearResults(userID string) (int, error) {
	results, err := s.db.ClearResults(userID)
	if err != nil {
		return 0, fmt.Errorf("clearing results: %w", err)
	}
	for _, r := range results {
		s.removeFile(r.StoredFile)
	}
	return len(results), nil
}

// ExportRows returns the user's results as export rows. When ids is not
// empty only those results are included, in the order given.
func (s *Service) ExportRows(userID string, ids []string) ([]export.Row, error) {
	if len(ids) == 0 {
		results, err := s.ListResults(userID)
		if err != nil {
			return nil, err
		}
		rows := make([]export.Row, 0, len(results))
		for _, r := range results {
			rows = append(rows, r.ExportRow())
		}
		return rows, nil
	}

	rows := make([]export.Row, 0, len(ids))
	for _, id := range ids {
		result, err := s.db.GetResult(userID, id)
		if errors.Is(err, ErrResultNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting result %s: %w", id, err)
		}
		rows = append(rows, result.ExportRow())
	}
	return rows, nil
}

// Usage returns the user's plan and consumption. Without a gate it returns nil.
func (s *Service) Usage(userID string) (*billing.Usage, error) {
	if s.gate == nil {
		return nil, nil
	}
	return s.gate.Usage(userID)
}
