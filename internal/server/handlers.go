package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/ai"
	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/store"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type analyzeRequest struct {
	FileName string `json:"file_name"`
	Text     string `json:"text"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r.Context())})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, extract.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, extract.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ai.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleAnalyze accepts raw contract text as JSON.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Extract.MaxUploadBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, r, status, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		s.writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}

	s.analyze(w, r, req.FileName, req.Text)
}

// handleAnalyzeUpload accepts a contract document as multipart upload.
func (s *Server) handleAnalyzeUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Extract.MaxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !s.extractor.Supported(header.Filename) {
		s.writeError(w, r, http.StatusUnsupportedMediaType, "unsupported document format")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "failed to read upload")
		return
	}

	text, err := s.extractor.Text(header.Filename, data)
	if err != nil {
		s.writeError(w, r, statusFor(err), err.Error())
		return
	}

	s.analyze(w, r, header.Filename, text)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, fileName, text string) {
	result, err := s.service.Analyze(r.Context(), analyzer.AnalyzeRequest{
		RequestID: requestID(r.Context()),
		FileName:  fileName,
		Text:      text,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.WithRequestID(requestID(r.Context())).Error("Analysis failed", zap.Error(err))
			s.writeError(w, r, status, "analysis failed")
			return
		}
		s.writeError(w, r, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	summaries, err := s.service.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "failed to list contracts")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"contracts": summaries,
		"count":     len(summaries),
	})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid contract id")
		return
	}

	contract, err := s.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "contract not found")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "failed to get contract")
		return
	}
	s.writeJSON(w, http.StatusOK, contract)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid contract id")
		return
	}

	if err := s.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound, "contract not found")
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, "failed to delete contract")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, components := s.service.Health(ctx)

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     "contract-warden",
		"version":  Version,
		"detector": s.cfg.PII.Detector,
		"model":    s.cfg.AI.Model,
		"events":   s.cfg.Events.Enabled,
		"cache":    s.cfg.Cache.Enabled,
	})
}
