package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyCheckWaitsForMatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("Ollama is running"))
	}))
	defer srv.Close()

	rc := ReadyCheck{URL: srv.URL, Match: "Ollama is running", Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}
	require.NoError(t, rc.wait(context.Background()))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestReadyCheckTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("starting"))
	}))
	defer srv.Close()

	rc := ReadyCheck{URL: srv.URL, Match: "Ollama is running", Timeout: 200 * time.Millisecond, Interval: 20 * time.Millisecond}
	assert.ErrorIs(t, rc.wait(context.Background()), errNotReady)
}

func TestReadyCheckDisabled(t *testing.T) {
	assert.NoError(t, ReadyCheck{}.wait(context.Background()))
}

func TestReadyTimeoutStillStartsApp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSupervisor(sh("serving", "sleep 30"), sh("app", "exit 0"))
	s.Ready = ReadyCheck{URL: srv.URL, Match: "Ollama is running", Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond}

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReasonChildExited, res.Reason)
	assert.Equal(t, "app", res.Child)
}
