package mail

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/coramo123/mail-scanner/internal/billing"
	"github.com/coramo123/mail-scanner/internal/export"
)

// maxFormMemory is how much of a multipart upload is held in memory; the rest spills to disk
const maxFormMemory = int64(50 << 20)

// maxBatchSize caps the size of one upload request
const maxBatchSize = int64(500 << 20)

// corsError writes a plain text error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes an {"error": message} response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrQuotaExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrFeatureNotIncluded):
		return http.StatusForbidden
	case errors.Is(err, export.ErrNoRows):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the matching JSON error response
func writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := statusFor(err)
	message := "Internal server error"
	switch code {
	case http.StatusInternalServerError:
		slog.Error(msg, "request_id", requestIDFromContext(r.Context()), "error", err)
	case http.StatusNotFound:
		message = "Scan not found"
	case http.StatusBadRequest:
		message = "No results to export"
	default:
		message = err.Error()
	}
	jsonError(w, message, code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleListScans returns all of the user's scans
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.ListResults(userFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, "Error listing scans", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// uploadedFiles returns the multipart file headers under any of the accepted field names
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	var files []*multipart.FileHeader
	for _, field := range []string{"files", "files[]", "file"} {
		files = append(files, form.File[field]...)
	}
	return files
}

// contentTypeFor returns the declared content type, falling back to the extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func readUpload(header *multipart.FileHeader) (Upload, error) {
	f, err := header.Open()
	if err != nil {
		return Upload{}, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, fmt.Errorf("reading upload: %w", err)
	}
	return Upload{
		Filename:    header.Filename,
		Data:        data,
		ContentType: contentTypeFor(header),
	}, nil
}

// handleUploadScans scans a batch of uploaded images
func (s *Server) handleUploadScans(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "Upload is too large. Maximum size is 500MB per request."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := uploadedFiles(r.MultipartForm)
	if len(headers) == 0 {
		jsonError(w, "No files were selected. Please choose at least one image to upload.", http.StatusBadRequest)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	for _, header := range headers {
		upload, err := readUpload(header)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		uploads = append(uploads, upload)
	}

	batch, err := s.service.ProcessUploads(r.Context(), userFromContext(r.Context()), uploads)
	if err != nil {
		writeServiceError(w, r, "Error processing uploads", err)
		return
	}

	code := http.StatusOK
	if batch.ScannedCount > 0 {
		code = http.StatusCreated
	}
	writeJSON(w, code, batch)
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetResult(userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "Error getting scan", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetScanFile returns the uploaded image of a scan
func (s *Server) handleGetScanFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetResultFile(userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "Error getting scan file", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

// handleDeleteScan removes a scan and its file
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteResult(userFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "Error deleting scan", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearScans removes all of the user's scans
func (s *Server) handleClearScans(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.ClearResults(userFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, "Error clearing scans", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// handleVerifyScan re-runs address verification on a scan
func (s *Server) handleVerifyScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Reverify(r.Context(), userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "Error verifying scan", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// exportIDs parses the comma separated ids query parameter
func exportIDs(r *http.Request) []string {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// writeExport renders the user's rows with write and sends them as an attachment
func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, ext, contentType string, write func(io.Writer, []export.Row) error) {
	rows, err := s.service.ExportRows(userFromContext(r.Context()), exportIDs(r))
	if err != nil {
		writeServiceError(w, r, "Error loading export rows", err)
		return
	}

	var buf bytes.Buffer
	if err := write(&buf, rows); err != nil {
		writeServiceError(w, r, "Error writing export", err)
		return
	}

	filename := fmt.Sprintf("mail_scan_results_%s.%s", time.Now().Format("20060102_150405"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Write(buf.Bytes())
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, "csv", "text/csv; charset=utf-8", export.WriteCSV)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, "xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.WriteXLSX)
}

func (s *Server) handleExportLabels(w http.ResponseWriter, r *http.Request) {
	if len(exportIDs(r)) == 0 {
		jsonError(w, "No addresses selected", http.StatusBadRequest)
		return
	}
	s.writeExport(w, r, "pdf", "application/pdf", export.WriteLabels)
}

// handlePlans lists the subscription plans
func (s *Server) handlePlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, billing.DefaultPlans())
}

// handleUsage returns the user's plan and scans used this month
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.service.Usage(userFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, "Error getting usage", err)
		return
	}
	if usage == nil {
		jsonError(w, "Usage tracking is disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
