package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func testConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Model:       "grok-beta",
		Temperature: 0.1,
		MaxTokens:   4000,
		Timeout:     5 * time.Second,
		MaxRetries:  3,
	}
}

func completionResponse(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return body
}

func TestAnalyzeContract(t *testing.T) {
	t.Run("StructuredResponse", func(t *testing.T) {
		var gotReq chatRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("Unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("Unexpected auth header: %s", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("Decode request: %v", err)
			}
			w.Write(completionResponse(t, `{"contract_summary": "A lease between [PII_PERSON_1] and [PII_PERSON_2]."}`))
		}))
		defer server.Close()

		client := New(testConfig(server.URL), nopLogger())
		result, err := client.AnalyzeContract(context.Background(), "Lease for [PII_PERSON_1].")
		if err != nil {
			t.Fatalf("AnalyzeContract failed: %v", err)
		}

		var doc map[string]string
		if err := json.Unmarshal(result, &doc); err != nil {
			t.Fatalf("Result is not valid JSON: %v", err)
		}
		if !strings.Contains(doc["contract_summary"], "[PII_PERSON_1]") {
			t.Errorf("Expected token preserved, got %q", doc["contract_summary"])
		}

		if gotReq.Model != "grok-beta" {
			t.Errorf("Expected model grok-beta, got %s", gotReq.Model)
		}
		if gotReq.Temperature != 0.1 || gotReq.MaxTokens != 4000 {
			t.Errorf("Unexpected sampling params: temp=%v max_tokens=%d", gotReq.Temperature, gotReq.MaxTokens)
		}
		if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
			t.Errorf("Expected system+user messages, got %+v", gotReq.Messages)
		}
		if !strings.Contains(gotReq.Messages[1].Content, "Lease for [PII_PERSON_1].") {
			t.Error("User message missing contract text")
		}

		for _, key := range []string{
			`"key_dates_and_events"`,
			`"date_dependencies"`,
			`"simplified_clauses"`,
			`"benefit_analysis"`,
			`"contract_summary"`,
			`"contract_type"`,
			`"main_parties"`,
			`"primary_purpose"`,
			`"key_obligations"`,
			`"termination_conditions"`,
			`"governing_law"`,
			`"risk_assessment"`,
			`"high_risk_items"`,
			`"medium_risk_items"`,
			`"recommendations"`,
		} {
			if !strings.Contains(gotReq.Messages[0].Content, key) {
				t.Errorf("System prompt missing schema key %s", key)
			}
		}
	})

	t.Run("NonJSONCompletionIsWrapped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(completionResponse(t, "I cannot produce JSON for this contract."))
		}))
		defer server.Close()

		client := New(testConfig(server.URL), nopLogger())
		result, err := client.AnalyzeContract(context.Background(), "text")
		if err != nil {
			t.Fatalf("AnalyzeContract failed: %v", err)
		}

		var doc map[string]string
		if err := json.Unmarshal(result, &doc); err != nil {
			t.Fatalf("Wrapped result is not valid JSON: %v", err)
		}
		if doc["raw_response"] != "I cannot produce JSON for this contract." {
			t.Errorf("Unexpected wrapped content: %+v", doc)
		}
	})

	t.Run("ClientErrorIsNotRetried", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, `{"error": {"message": "invalid request"}}`, http.StatusBadRequest)
		}))
		defer server.Close()

		client := New(testConfig(server.URL), nopLogger())
		_, err := client.AnalyzeContract(context.Background(), "text")
		if !errors.Is(err, ErrUpstream) {
			t.Fatalf("Expected ErrUpstream, got %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected 1 call for a 400, got %d", calls)
		}
	})

	t.Run("ServerErrorIsRetried", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 2 {
				http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
				return
			}
			w.Write(completionResponse(t, `{"contract_summary": "ok"}`))
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		client := New(cfg, nopLogger())
		client.retryDelay = time.Millisecond

		result, err := client.AnalyzeContract(context.Background(), "text")
		if err != nil {
			t.Fatalf("AnalyzeContract failed after retry: %v", err)
		}
		if calls != 2 {
			t.Errorf("Expected 2 calls, got %d", calls)
		}
		if !json.Valid(result) {
			t.Error("Result should be valid JSON")
		}
	})

	t.Run("ExhaustedRetriesReturnUpstreamError", func(t *testing.T) {
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		cfg := testConfig(server.URL)
		client := New(cfg, nopLogger())
		client.retryDelay = time.Millisecond

		_, err := client.AnalyzeContract(context.Background(), "text")
		if !errors.Is(err, ErrUpstream) {
			t.Fatalf("Expected ErrUpstream, got %v", err)
		}
		if calls != cfg.MaxRetries {
			t.Errorf("Expected %d calls, got %d", cfg.MaxRetries, calls)
		}
	})
}
