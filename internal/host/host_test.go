package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficlog/internal/exchange"
	"trafficlog/internal/message"
	"trafficlog/internal/sink"
	"trafficlog/internal/strategy"
)

type written struct {
	request  *message.Snapshot
	response *message.Snapshot
}

type fakeSink struct {
	mu      sync.Mutex
	records []written
}

func (s *fakeSink) Active() bool { return true }

func (s *fakeSink) Write(_ context.Context, _ sink.Correlation, req, resp *message.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, written{request: req, response: resp})
	return nil
}

func (s *fakeSink) writes() []written {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]written(nil), s.records...)
}

func setup(t *testing.T, timeout time.Duration, opts ...exchange.Option) (*Host, *exchange.Correlator, *fakeSink) {
	t.Helper()
	s := &fakeSink{}
	c, err := exchange.New(s, opts...)
	require.NoError(t, err)
	h := New(c, timeout)
	h.newID = func() string { return "exchange-1" }
	return h, c, s
}

func helloWorld(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	_, _ = io.WriteString(w, `{"value":"Hello, world!"}`)
}

func deferTo(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, err := StartAsync(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		go func() {
			_ = ac.Dispatch(next)
		}()
	}
}

func TestHost_SyncRequest(t *testing.T) {
	h, c, s := setup(t, time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/async", nil)

	h.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, r)

	writes := s.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, http.MethodGet, writes[0].request.Method())
	assert.Equal(t, 0, writes[0].request.Headers().Len())
	assert.Empty(t, writes[0].request.BodyString())
	assert.Equal(t, exchange.Completed, c.Phase("exchange-1"))
}

func TestHost_AsyncRequest(t *testing.T) {
	h, c, s := setup(t, time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/async", nil)

	h.Wrap(deferTo(helloWorld)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"value":"Hello, world!"}`, w.Body.String())

	writes := s.writes()
	require.Len(t, writes, 1)
	resp := writes[0].response
	assert.Equal(t, http.StatusOK, resp.Status())
	assert.Equal(t, []string{"application/json;charset=UTF-8"}, resp.Headers().Values("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.Equal(t, map[string]string{"value": "Hello, world!"}, body)
	assert.Equal(t, exchange.Completed, c.Phase("exchange-1"))
}

func TestHost_RepeatedDeferral(t *testing.T) {
	h, _, s := setup(t, time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/stream", nil)

	remaining := 3
	var step http.HandlerFunc
	step = func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "chunk;")
		if remaining == 0 {
			return
		}
		remaining--
		deferTo(step)(w, r)
	}

	h.Wrap(step).ServeHTTP(w, r)

	assert.Equal(t, "chunk;chunk;chunk;chunk;", w.Body.String())
	writes := s.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "chunk;chunk;chunk;chunk;", writes[0].response.BodyString())
}

func TestHost_Complete(t *testing.T) {
	h, _, s := setup(t, time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	h.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := StartAsync(r)
		require.NoError(t, err)
		w.WriteHeader(http.StatusAccepted)
		require.NoError(t, ac.Complete())
		assert.ErrorIs(t, ac.Dispatch(http.NotFoundHandler()), ErrAsyncFinished)
	})).ServeHTTP(w, r)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, s.writes(), 1)
	assert.Equal(t, http.StatusAccepted, s.writes()[0].response.Status())
}

func TestHost_TimeoutAbandons(t *testing.T) {
	h, c, s := setup(t, 20*time.Millisecond)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/async", nil)

	var ac *AsyncContext
	h.Wrap(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		var err error
		ac, err = StartAsync(r)
		require.NoError(t, err)
	})).ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, s.writes(), "abandoned exchanges are not logged")
	assert.Equal(t, exchange.NotStarted, c.Phase("exchange-1"))
	assert.ErrorIs(t, ac.Dispatch(http.NotFoundHandler()), ErrAsyncFinished)
}

func TestHost_ClientGone(t *testing.T) {
	h, _, s := setup(t, 0)
	w := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/api/async", nil).WithContext(ctx)

	h.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := StartAsync(r)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		cancel()
	})).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.writes())
}

func TestHost_DispatchFailure(t *testing.T) {
	boom := errors.New("boom")
	h, _, s := setup(t, time.Second, exchange.WithStrategy(failing{err: boom}))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	called := false
	h.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(w, r)

	assert.False(t, called)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, s.writes())
}

func TestHost_PanicInContinuation(t *testing.T) {
	h, c, s := setup(t, time.Second)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := h.Wrap(deferTo(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	assert.PanicsWithValue(t, "boom", func() { handler.ServeHTTP(w, r) })
	assert.Empty(t, s.writes())
	assert.Equal(t, exchange.NotStarted, c.Phase("exchange-1"))
}

func TestStartAsync_OutsideHost(t *testing.T) {
	_, err := StartAsync(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNotDispatched)
}

func TestAsyncContext_DispatchRequiresStart(t *testing.T) {
	ac := newAsyncContext()
	assert.ErrorIs(t, ac.Dispatch(http.NotFoundHandler()), ErrAsyncFinished)
}

type failing struct {
	strategy.Default
	err error
}

func (f failing) ProcessRequest(context.Context, strategy.Source) (*message.Snapshot, error) {
	return nil, f.err
}
