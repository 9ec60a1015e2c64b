package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/runs"
	"example.com/analytics-synth/internal/synth"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/runs", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("async"))
		var req pipeline.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.NumUsers)
		assert.Equal(t, 50, *req.NumUsers)
		writeJSON(w, http.StatusAccepted, runs.Run{ID: "abc", Status: runs.StatusRunning, NumUsers: *req.NumUsers})
	}))
	defer srv.Close()

	users := 50
	run, err := New(srv.URL+"/").CreateRun(context.Background(), pipeline.Request{NumUsers: &users}, true)
	require.NoError(t, err)
	assert.Equal(t, "abc", run.ID)
	assert.Equal(t, runs.StatusRunning, run.Status)
}

func TestAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/runs":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{
				"message": "invalid days: must be positive, got -1", "status": 400, "code": synth.CodeConfig,
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)

	days := -1
	_, err := c.CreateRun(context.Background(), pipeline.Request{Days: &days}, false)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, synth.CodeConfig, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "invalid days")

	_, err = c.GetRun(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("page_size"))
		writeJSON(w, http.StatusOK, runs.RunPage{Runs: []runs.Run{{ID: "a"}}, Page: 2, PageSize: 5, Total: 6})
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListRuns(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Runs, 1)
}

func TestWaitRun(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := runs.StatusRunning
		if calls.Add(1) >= 3 {
			status = runs.StatusSucceeded
		}
		writeJSON(w, http.StatusOK, runs.Run{ID: "r", Status: status})
	}))
	defer srv.Close()

	run, err := New(srv.URL).WaitRun(context.Background(), "r", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, run.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitRun_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, runs.Run{ID: "r", Status: runs.StatusRunning})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).WaitRun(ctx, "r", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
