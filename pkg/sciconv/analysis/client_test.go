package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
)

func TestClientBuilder(t *testing.T) {
	t.Run("requires a base URL", func(t *testing.T) {
		_, err := NewClient().Build()
		assert.EqualError(t, err, "base URL is required")
	})

	t.Run("rejects other schemes", func(t *testing.T) {
		_, err := NewClient().WithBaseURL("ws://localhost:8000").Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http or https")
	})

	t.Run("rejects a missing host", func(t *testing.T) {
		_, err := NewClient().WithBaseURL("http://").Build()
		require.Error(t, err)
	})

	t.Run("trims a trailing slash", func(t *testing.T) {
		client, err := NewClient().WithBaseURL("http://localhost:8000/").Build()
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:8000", client.BaseURL())
	})

	t.Run("keeps a path prefix", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			writeJSON(w, http.StatusOK, Health{Status: "healthy"})
		}))
		defer server.Close()

		client := newTestClient(t, server.URL+"/api/")
		_, err := client.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "/api/health", gotPath)
	})
}

func TestClientSubmit(t *testing.T) {
	service := newFakeService(t)
	client := newTestClient(t, service.URL)
	ctx := context.Background()

	t.Run("applies defaults", func(t *testing.T) {
		sub, err := client.Submit(ctx, Request{
			Title:       "新型电池材料",
			Description: "一种高能量密度的固态电解质",
			Field:       "新能源",
			Keywords:    "电池, 固态",
		})
		require.NoError(t, err)
		assert.Equal(t, testSession, sub.SessionID)
		assert.Equal(t, StatusProcessing, sub.Status)
		assert.Equal(t, "分析已开始，稍后查询结果", sub.Message)

		submitted := service.Submitted()
		require.Len(t, submitted, 1)
		assert.Equal(t, DefaultMaturity, submitted[0].Maturity)
		assert.Equal(t, DefaultPatentStatus, submitted[0].PatentStatus)
		assert.Equal(t, DefaultExpectedOutcome, submitted[0].ExpectedOutcome)
		assert.Equal(t, "电池, 固态", submitted[0].Keywords)
	})

	t.Run("keeps explicit optional fields", func(t *testing.T) {
		_, err := client.Submit(ctx, Request{
			Title:        "t",
			Description:  "d",
			Field:        "f",
			Maturity:     "中试",
			PatentStatus: "申请中",
		})
		require.NoError(t, err)

		submitted := service.Submitted()
		last := submitted[len(submitted)-1]
		assert.Equal(t, "中试", last.Maturity)
		assert.Equal(t, "申请中", last.PatentStatus)
		assert.Equal(t, DefaultExpectedOutcome, last.ExpectedOutcome)
	})

	t.Run("validates before sending", func(t *testing.T) {
		before := len(service.Submitted())

		_, err := client.Submit(ctx, Request{Title: "only a title", Field: "  "})
		require.ErrorIs(t, err, ErrInvalidRequest)
		assert.Contains(t, err.Error(), "description, field")
		assert.Len(t, service.Submitted(), before)
	})
}

func TestClientResult(t *testing.T) {
	service := newFakeService(t)
	client := newTestClient(t, service.URL)
	ctx := context.Background()

	t.Run("fetches a stored result", func(t *testing.T) {
		service.setResults(testSession, completedResult(testSession))

		result, err := client.Result(ctx, testSession)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, result.Status)
		assert.Equal(t, "50亿", result.MarketAnalysis["market_size"])
		assert.Equal(t, "技术许可", result.TransferStrategy["recommended"])
	})

	t.Run("normalizes the session id", func(t *testing.T) {
		service.setResults(testSession, completedResult(testSession))

		_, err := client.Result(ctx, "  0B5C7D6E-2F1A-4C3B-9D8E-7F6A5B4C3D2E ")
		require.NoError(t, err)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		_, err := client.Result(ctx, "11111111-2222-3333-4444-555555555555")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.ErrorIs(t, err, ErrHTTPStatus)

		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, "会话不存在", httpErr.Detail)
		assert.Equal(t, http.MethodGet, httpErr.Method)
		assert.Equal(t, "GET /result/11111111-2222-3333-4444-555555555555: unexpected HTTP status 404: 会话不存在", err.Error())
	})

	t.Run("rejects malformed ids without a request", func(t *testing.T) {
		_, err := client.Result(ctx, "../health")
		assert.ErrorIs(t, err, ErrInvalidSessionID)
		assert.False(t, IsNotFound(err))
	})

	t.Run("plain text errors keep their body", func(t *testing.T) {
		service.failNext(1)

		_, err := client.Result(ctx, testSession)
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
		assert.Equal(t, "upstream exploded", httpErr.Detail)
	})
}

func TestClientHealthAndConfig(t *testing.T) {
	service := newFakeService(t)
	client := newTestClient(t, service.URL)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy())
	assert.Equal(t, "scientific-achievement-agent-api", health.Service)

	cfg, err := client.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", cfg.APIVersion)
	assert.Equal(t, "/docs", cfg.DocsURL)
	assert.Contains(t, cfg.SupportedMethods, "POST /analyze")
}

func TestClientErrors(t *testing.T) {
	t.Run("structured detail is kept as JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []string{"title required"}})
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL).Submit(context.Background(), Request{Title: "t", Description: "d", Field: "f"})
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, `["title required"]`, httpErr.Detail)
	})

	t.Run("undecodable body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		defer server.Close()

		_, err := newTestClient(t, server.URL).Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		client, err := NewClient().WithBaseURL(server.URL).WithTimeout(50 * time.Millisecond).Build()
		require.NoError(t, err)

		_, err = client.Health(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrHTTPStatus)
	})

	t.Run("cancelled context", func(t *testing.T) {
		service := newFakeService(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestClient(t, service.URL).Health(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClientMetrics(t *testing.T) {
	service := newFakeService(t)
	metrics := o11y.NewMemoryProvider()
	client, err := NewClient().WithBaseURL(service.URL).WithMetrics(metrics).Build()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Health(ctx)
	require.NoError(t, err)
	_, err = client.Result(ctx, testSession)
	require.Error(t, err)

	assert.EqualValues(t, 2, metrics.CounterValue("analysis_requests_total"))
	assert.EqualValues(t, 1, metrics.CounterValue("analysis_request_failures_total"))

	snapshot := metrics.Snapshot()
	assert.EqualValues(t, 1, snapshot.Counters["analysis_request_failures_total{operation=result}"])
	assert.Len(t, snapshot.Histograms["analysis_request_duration_seconds{operation=health}"], 1)
	assert.Len(t, snapshot.Histograms["analysis_request_duration_seconds{operation=result}"], 1)
}
