package analysis

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSession = "0b5c7d6e-2f1a-4c3b-9d8e-7f6a5b4c3d2e"

// fakeService imitates the analysis API. Results for a session are served in
// order, the last one repeating.
type fakeService struct {
	*httptest.Server

	mu        sync.Mutex
	submitted []Request
	results   map[string][]Result
	served    map[string]int
	failures  int
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()

	s := &fakeService{
		results: map[string][]Result{},
		served:  map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.analyze)
	mux.HandleFunc("GET /result/{id}", s.result)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "scientific-achievement-agent-api"})
	})
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"api_version":       "1.0.0",
			"supported_methods": []string{"POST /analyze", "GET /result/{session_id}", "GET /health"},
			"docs_url":          "/docs",
		})
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *fakeService) analyze(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{{"loc": []string{"body"}, "msg": "invalid json"}},
		})
		return
	}

	s.mu.Lock()
	s.submitted = append(s.submitted, req)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, Submission{SessionID: testSession, Status: StatusProcessing, Message: "分析已开始，稍后查询结果"})
}

func (s *fakeService) result(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		http.Error(w, "upstream exploded", http.StatusBadGateway)
		return
	}
	results, ok := s.results[id]
	n := s.served[id]
	s.served[id] = n + 1
	s.mu.Unlock()

	if !ok || len(results) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "会话不存在"})
		return
	}
	if n >= len(results) {
		n = len(results) - 1
	}
	writeJSON(w, http.StatusOK, results[n])
}

func (s *fakeService) setResults(id string, results ...Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = results
}

func (s *fakeService) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *fakeService) servedCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[id]
}

func (s *fakeService) Submitted() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.submitted...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := NewClient().
		WithBaseURL(baseURL).
		WithTimeout(5 * time.Second).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)

	return client
}

// every fires at a fixed sub-second interval, which cron's @every cannot.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func completedResult(id string) Result {
	return Result{
		SessionID: id,
		Status:    StatusCompleted,
		MarketAnalysis: map[string]any{
			"market_size": "50亿",
			"competitors": []any{"A公司", "B公司"},
			"score":       8.5,
		},
		PatentAnalysis:   map[string]any{"novelty": "high"},
		TransferStrategy: map[string]any{"recommended": "技术许可"},
		Summary:          strings.Repeat("好", 3),
	}
}
