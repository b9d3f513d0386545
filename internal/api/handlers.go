package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/extract"
	"github.com/raaihank/pii-sentinel/internal/scanner"
	"go.uber.org/zap"
)

const maxMultipartMemory = 8 << 20

type scanTextRequest struct {
	Text *string `json:"text"`
}

type addPatternRequest struct {
	Pattern string `json:"pattern"`
}

type scanResponse struct {
	ContainsPII bool   `json:"contains_pii"`
	Filename    string `json:"filename,omitempty"`
}

type patternsResponse struct {
	Count      int      `json:"count"`
	Generation uint64   `json:"generation"`
	Patterns   []string `json:"patterns,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                 "pii-sentinel",
		"version":              s.version,
		"rules":                s.scanner.Rules(),
		"rule_generation":      s.scanner.Generation(),
		"supported_extensions": extract.SupportedExtensions(),
		"uptime":               time.Since(s.startedAt).Round(time.Second).String(),
		"cache_enabled":        s.cache != nil,
		"audit_enabled":        s.audit != nil,
	})
}

func (s *Server) handleScanText(w http.ResponseWriter, r *http.Request) {
	var req scanTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBodyError(w, err)
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, `missing "text" field`)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{ContainsPII: s.scanner.ContainsPII(*req.Text)})
}

// handleScanFile spools the uploaded file to disk, keeping its extension so
// format detection sees the original name, and scans it
func (s *Server) handleScanFile(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithRequestID(getRequestID(r.Context()))

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		s.writeBodyError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `missing multipart field "file"`)
		return
	}
	defer upload.Close()

	name := filepath.Base(header.Filename)
	if _, ok := extract.DetectFormat(name); !ok {
		err := fmt.Errorf("%w: %s", scanner.ErrUnsupportedFormat, filepath.Ext(name))
		writeErrorKind(w, http.StatusUnsupportedMediaType, err.Error(), scanner.ErrorKind(err))
		return
	}

	tmp, err := os.CreateTemp("", "pii-sentinel-*"+filepath.Ext(name))
	if err != nil {
		log.Error("Failed to create temp file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, upload)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		log.Error("Failed to spool upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	containsPII, err := s.scanner.ContainsPIIFromUpload(r.Context(), tmp.Name(), name)
	if err != nil {
		kind := scanner.ErrorKind(err)
		log.Info("File scan rejected", zap.String("filename", name), zap.String("kind", kind), zap.Error(err))
		writeErrorKind(w, statusForScanError(err), err.Error(), kind)
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{ContainsPII: containsPII, Filename: name})
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns := s.scanner.Patterns()
	writeJSON(w, http.StatusOK, patternsResponse{
		Count:      len(patterns),
		Generation: s.scanner.Generation(),
		Patterns:   patterns,
	})
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	var req addPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBodyError(w, err)
		return
	}

	if err := s.scanner.AddPattern(req.Pattern); err != nil {
		writeErrorKind(w, http.StatusBadRequest, err.Error(), scanner.ErrorKind(err))
		return
	}

	s.logger.WithRequestID(getRequestID(r.Context())).Info("Pattern added via API", zap.Int("rules", s.scanner.Rules()))
	writeJSON(w, http.StatusCreated, patternsResponse{
		Count:      s.scanner.Rules(),
		Generation: s.scanner.Generation(),
	})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	opts := audit.QueryOptions{Limit: 50}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := r.URL.Query().Get("pii"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pii filter")
			return
		}
		opts.OnlyPII = b
	}

	records, err := s.audit.Recent(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to query audit trail", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to read audit stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to read cache stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusForScanError maps the scanner error taxonomy onto HTTP statuses
func statusForScanError(err error) int {
	switch {
	case errors.Is(err, scanner.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scanner.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, scanner.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeErrorKind(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
