package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/apperr"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/highlight"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/jobs"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/media"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/task"
	"github.com/r3ximous/Polyglot-Media-Analyzer/internal/translate"
)

// maxMultipartMemory bounds the in-memory part of a parsed upload; the rest
// spills to temp files.
const maxMultipartMemory = 32 << 20

type uploadResponse struct {
	FileID   string         `json:"file_id"`
	Filename string         `json:"filename"`
	FileType media.FileType `json:"file_type"`
	FileSize int64          `json:"file_size"`
	Message  string         `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), `multipart field "file" is required`)
		return
	}
	defer file.Close()

	fileType, err := media.ValidateUpload(header.Filename, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}

	fileID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(header.Filename))
	mediaPath := filepath.Join(s.uploadDir, fileID+ext)
	if err := saveUpload(file, mediaPath); err != nil {
		writeAppError(w, err)
		return
	}

	job := jobs.New(fileID, header.Filename, fileType, mediaPath, header.Size)
	if meta, err := s.newOperator(mediaPath).Probe(); err != nil {
		log.Warn().Err(err).Str("file_id", fileID).Msg("media probe failed, duration unknown")
	} else {
		job.Duration = meta.Duration
	}

	created, err := s.store.Create(job)
	if err != nil {
		_ = os.Remove(mediaPath)
		writeAppError(w, err)
		return
	}
	s.orch.Admit(created)

	log.Info().
		Str("file_id", fileID).
		Str("filename", header.Filename).
		Str("file_type", string(fileType)).
		Int64("size_bytes", header.Size).
		Msg("upload accepted")

	writeJSON(w, http.StatusOK, uploadResponse{
		FileID:   created.FileID,
		Filename: created.Filename,
		FileType: created.FileType,
		FileSize: created.SizeBytes,
		Message:  "File uploaded successfully. Processing started.",
	})
}

func saveUpload(src io.Reader, toPath string) error {
	if err := os.MkdirAll(filepath.Dir(toPath), 0o755); err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "create upload directory")
	}
	dst, err := os.Create(toPath)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "store upload")
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(toPath)
		return apperr.Wrap(err, apperr.KindInfrastructure, "store upload")
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	fileID, ok := pathSuffixID(r.URL.Path, "/api/status/")
	if !ok {
		writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "not found")
		return
	}

	view, err := s.status.Status(fileID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// resultHandler serves one task's payload under its own route, e.g.
// /api/summary/{file_id} for summarization.
func (s *Server) resultHandler(prefix string, taskType task.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		fileID, ok := pathSuffixID(r.URL.Path, prefix)
		if !ok {
			writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "not found")
			return
		}

		view, err := s.status.Result(fileID, taskType)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.translate == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "translation is not configured")
		return
	}
	fileID, ok := pathSuffixID(r.URL.Path, "/api/translate/")
	if !ok {
		writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "not found")
		return
	}

	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid json body")
		return
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "target_language is required")
		return
	}

	resp, err := s.translate.Translate(r.Context(), translate.Request{
		FileID:         fileID,
		Text:           req.Text,
		TargetLanguage: req.TargetLanguage,
		SourceLanguage: req.SourceLanguage,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type highlightRequest struct {
	Segments []highlight.Segment `json:"segments"`
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.highlight == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "highlights are not configured")
		return
	}
	fileID, ok := pathSuffixID(r.URL.Path, "/api/highlight/")
	if !ok {
		writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "not found")
		return
	}

	var req highlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid json body")
		return
	}

	resp, err := s.highlight.Compose(fileID, req.Segments)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.status.Overview())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": serviceName,
	})
}

// pathSuffixID extracts the single trailing path segment after prefix.
func pathSuffixID(path string, prefix string) (string, bool) {
	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false
	}
	id, err := url.PathUnescape(trimmed)
	if err != nil || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, detail string) {
	writeJSON(w, status, map[string]any{
		"error":  code,
		"detail": detail,
	})
}

// writeAppError maps an application error kind onto its HTTP status; the kind
// string itself is the wire-level error code.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	detail := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		detail = appErr.Message
	}
	writeError(w, statusForKind(kind), string(kind), detail)
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidSegment, apperr.KindUnsupportedLanguage:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindNotReady, apperr.KindMediaNotReady:
		return http.StatusConflict
	case apperr.KindBusy:
		return http.StatusTooManyRequests
	case apperr.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
