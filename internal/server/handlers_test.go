package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/ai"
	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/store"
)

// fakeService implements Analyzer for handler tests.
type fakeService struct {
	analyzeErr error
	result     *analyzer.AnalysisResult
	contracts  map[int64]*store.ParsedContract
	health     string
	lastReq    analyzer.AnalyzeRequest
}

func (f *fakeService) Analyze(_ context.Context, req analyzer.AnalyzeRequest) (*analyzer.AnalysisResult, error) {
	f.lastReq = req
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &analyzer.AnalysisResult{
		ContractID: 1,
		FileName:   req.FileName,
		Analysis:   json.RawMessage(`{"contract_summary": "ok"}`),
	}, nil
}

func (f *fakeService) Get(_ context.Context, id int64) (*store.ParsedContract, error) {
	c, ok := f.contracts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeService) List(_ context.Context, limit, offset int) ([]store.ContractSummary, error) {
	var out []store.ContractSummary
	for _, c := range f.contracts {
		out = append(out, store.ContractSummary{ID: c.ID, FileName: c.FileName})
	}
	return out, nil
}

func (f *fakeService) Delete(_ context.Context, id int64) error {
	if _, ok := f.contracts[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.contracts, id)
	return nil
}

func (f *fakeService) Health(_ context.Context) (string, map[string]analyzer.ComponentHealth) {
	status := f.health
	if status == "" {
		status = "healthy"
	}
	return status, map[string]analyzer.ComponentHealth{"database": {Status: "up"}}
}

func (f *fakeService) PublishSystemStats(context.Context, int) {}

func newTestServer(svc *fakeService, mutate func(*config.Config)) *Server {
	cfg := config.GetDefaults()
	cfg.Events.Enabled = false
	cfg.Security.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	log := &logger.Logger{Logger: zap.NewNop()}
	extractor := extract.New(cfg.Extract, log)
	return New(cfg, svc, extractor, nil, log)
}

func TestHandleAnalyze(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		svc := &fakeService{}
		srv := newTestServer(svc, nil)

		body := `{"file_name": "lease.txt", "text": "Contact ann@example.com."}`
		req := httptest.NewRequest("POST", "/v1/analyze", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("Expected X-Request-ID header")
		}
		var result analyzer.AnalysisResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatalf("Invalid response JSON: %v", err)
		}
		if result.ContractID != 1 {
			t.Errorf("Unexpected contract ID: %d", result.ContractID)
		}
		if svc.lastReq.FileName != "lease.txt" {
			t.Errorf("Unexpected file name: %s", svc.lastReq.FileName)
		}
		if svc.lastReq.RequestID == "" {
			t.Error("Request ID should be threaded through")
		}
	})

	t.Run("MissingText", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, nil)
		req := httptest.NewRequest("POST", "/v1/analyze", strings.NewReader(`{"file_name": "a.txt"}`))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rec.Code)
		}
		var errResp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("Invalid error envelope: %v", err)
		}
		if errResp.Error == "" || errResp.RequestID == "" {
			t.Errorf("Incomplete error envelope: %+v", errResp)
		}
	})

	t.Run("UpstreamFailureIs502", func(t *testing.T) {
		svc := &fakeService{analyzeErr: fmt.Errorf("%w: provider down", ai.ErrUpstream)}
		srv := newTestServer(svc, nil)

		req := httptest.NewRequest("POST", "/v1/analyze", strings.NewReader(`{"text": "contract"}`))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("Expected 502, got %d", rec.Code)
		}
	})

	t.Run("EmptyDocumentIs400", func(t *testing.T) {
		svc := &fakeService{analyzeErr: extract.ErrEmptyDocument}
		srv := newTestServer(svc, nil)

		req := httptest.NewRequest("POST", "/v1/analyze", strings.NewReader(`{"text": "  "}`))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rec.Code)
		}
	})
}

func multipartBody(t *testing.T, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write part: %v", err)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestHandleAnalyzeUpload(t *testing.T) {
	t.Run("TextUpload", func(t *testing.T) {
		svc := &fakeService{}
		srv := newTestServer(svc, nil)

		body, contentType := multipartBody(t, "lease.txt", "Lease between Ann Smith and Bob Jones.")
		req := httptest.NewRequest("POST", "/v1/analyze/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(svc.lastReq.Text, "Ann Smith") {
			t.Errorf("Extracted text not forwarded: %q", svc.lastReq.Text)
		}
	})

	t.Run("UnsupportedFormatIs415", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, nil)

		body, contentType := multipartBody(t, "lease.docx", "binary")
		req := httptest.NewRequest("POST", "/v1/analyze/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusUnsupportedMediaType {
			t.Fatalf("Expected 415, got %d", rec.Code)
		}
	})

	t.Run("OversizeUploadIs413", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, func(cfg *config.Config) {
			cfg.Extract.MaxUploadBytes = 10
		})

		body, contentType := multipartBody(t, "lease.txt", strings.Repeat("x", 100))
		req := httptest.NewRequest("POST", "/v1/analyze/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("Expected 413, got %d", rec.Code)
		}
	})

	t.Run("MissingFileIs400", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, nil)
		req := httptest.NewRequest("POST", "/v1/analyze/upload", strings.NewReader("no file"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("Expected 400, got %d", rec.Code)
		}
	})
}

func TestContractEndpoints(t *testing.T) {
	svc := &fakeService{contracts: map[int64]*store.ParsedContract{
		7: {ID: 7, FileName: "nda.pdf", AIResponse: json.RawMessage(`{}`),
			DetokenizedResponse: json.RawMessage(`{}`), TokenMapping: json.RawMessage(`{}`)},
	}}
	srv := newTestServer(svc, nil)

	t.Run("List", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v1/contracts?limit=10", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var resp struct {
			Contracts []store.ContractSummary `json:"contracts"`
			Count     int                     `json:"count"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Invalid response: %v", err)
		}
		if resp.Count != 1 || resp.Contracts[0].ID != 7 {
			t.Errorf("Unexpected listing: %+v", resp)
		}
	})

	t.Run("Get", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v1/contracts/7", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("GetMissingIs404", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/v1/contracts/999", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected 404, got %d", rec.Code)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		req := httptest.NewRequest("DELETE", "/v1/contracts/7", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", rec.Code)
		}

		rec = httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/contracts/7", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("Expected 404 on second delete, got %d", rec.Code)
		}
	})
}

func TestRateLimiting(t *testing.T) {
	srv := newTestServer(&fakeService{}, func(cfg *config.Config) {
		cfg.Security.RateLimit.Enabled = true
		cfg.Security.RateLimit.RequestsPerMin = 60
		cfg.Security.RateLimit.Burst = 1
	})

	newReq := func() *http.Request {
		req := httptest.NewRequest("GET", "/v1/contracts", nil)
		req.RemoteAddr = "10.1.1.1:4000"
		return req
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, newReq())
	if rec.Code != http.StatusOK {
		t.Fatalf("First request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, newReq())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
}

func TestHealthAndInfo(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("UnhealthyIs503", func(t *testing.T) {
		srv := newTestServer(&fakeService{health: "unhealthy"}, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d", rec.Code)
		}
	})

	t.Run("Info", func(t *testing.T) {
		srv := newTestServer(&fakeService{}, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/info", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var info map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
			t.Fatalf("Invalid info JSON: %v", err)
		}
		if info["name"] != "contract-warden" {
			t.Errorf("Unexpected name: %v", info["name"])
		}
	})
}
