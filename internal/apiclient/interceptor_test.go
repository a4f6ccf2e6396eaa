package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/pipeline-console/internal/credentials"
)

func TestChain_Order(t *testing.T) {
	var calls []string
	record := func(name string) Interceptor {
		return InterceptorFunc(func(next SendFunc) SendFunc {
			return func(ctx context.Context, req *Request) (*Response, error) {
				calls = append(calls, name+":before")
				resp, err := next(ctx, req)
				calls = append(calls, name+":after")
				return resp, err
			}
		})
	}

	send := Chain(func(ctx context.Context, req *Request) (*Response, error) {
		calls = append(calls, "send")
		return &Response{StatusCode: http.StatusOK}, nil
	}, record("outer"), nil, record("inner"))

	_, err := send(context.Background(), NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, []string{"outer:before", "inner:before", "send", "inner:after", "outer:after"}, calls)
}

func storeWithToken(t *testing.T, access, refresh string, expiresAt time.Time) *credentials.Store {
	t.Helper()
	store := credentials.NewStore(credentials.NewMemoryBackend())
	require.True(t, store.SetTokens(access, refresh, expiresAt))
	return store
}

func TestAuth_AttachesBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "access-1", "refresh-1", time.Now().Add(time.Hour))
	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store}))

	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))
}

func TestAuth_NoTokenNoHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := credentials.NewStore(credentials.NewMemoryBackend())
	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store}))

	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))
}

func TestAuth_SkipAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "access-1", "refresh-1", time.Now().Add(time.Hour))
	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store}))

	require.NoError(t, client.Post(context.Background(), "/auth/login", map[string]string{"username": "admin"}, nil, SkipAuth()))
}

func TestAuth_RefreshesBeforeRequest(t *testing.T) {
	var events []string
	var mu sync.Mutex
	logEvent := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logEvent("request " + r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "old-token", "refresh-1", time.Now().Add(2*time.Minute))

	var refreshes atomic.Int32
	refresher := RefresherFunc(func(ctx context.Context) error {
		refreshes.Add(1)
		logEvent("refresh")
		store.SetTokens("new-token", "refresh-2", time.Now().Add(time.Hour))
		return nil
	})

	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store, Refresher: refresher}))

	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))
	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))

	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, []string{"refresh", "request Bearer new-token", "request Bearer new-token"}, events)
}

func TestAuth_RefreshFailureStillSendsRequest(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "stale-token", "refresh-1", time.Now().Add(time.Minute))
	refresher := RefresherFunc(func(ctx context.Context) error {
		return errors.New("refresh rejected")
	})

	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store, Refresher: refresher}))

	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))
	assert.Equal(t, "Bearer stale-token", got)
}

func TestAuth_SkipRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "old-token", "refresh-1", time.Now().Add(time.Minute))
	refresher := RefresherFunc(func(ctx context.Context) error {
		t.Fatal("refresh must not be called")
		return nil
	})

	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store, Refresher: refresher}))
	require.NoError(t, client.Post(context.Background(), "/auth/refresh", nil, nil, SkipRefresh()))
}

func TestAuth_NoRefreshTokenSkipsRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	store := storeWithToken(t, "old-token", "", time.Now().Add(time.Minute))
	var refreshes atomic.Int32
	refresher := RefresherFunc(func(ctx context.Context) error {
		refreshes.Add(1)
		return nil
	})

	client := newTestClient(t, testConfig(server.URL), WithAuth(Auth{Store: store, Refresher: refresher}))
	require.NoError(t, client.Get(context.Background(), "/pipelines", nil))
	assert.Zero(t, refreshes.Load())
}

func TestLinearBackOff(t *testing.T) {
	b := &linearBackOff{step: 100 * time.Millisecond, max: 250 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 250*time.Millisecond, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextBackOff())
}

func TestValidationError(t *testing.T) {
	err := ValidationError(errors.New("boom"))
	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, 0, err.StatusCode)
	assert.Equal(t, CodeValidationError, err.ErrorCode)
}
