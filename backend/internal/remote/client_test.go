package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "music-tutor/backend/pkg/errors"
)

func TestClient_DoJSON_SendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	c := NewClient("test", " secret ", WithHeader("X-Requested-With", "XMLHttpRequest"))
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"}, &out))
	assert.Equal(t, "abc", out.ID)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"bad token"}`))
	}))
	defer srv.Close()

	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeUnauthorized))
}

func TestClient_NonSuccessUsesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"version does not exist"}`))
	}))
	defer srv.Close()

	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
	assert.Contains(t, err.Error(), "version does not exist")
	assert.Contains(t, err.Error(), "422")
}

func TestClient_HTMLIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!doctype html><html><head><title>404: NOT_FOUND</title></head><body>nope</body></html>`))
	}))
	defer srv.Close()

	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
	assert.Contains(t, err.Error(), "HTML instead of JSON")
	assert.Contains(t, err.Error(), "404: NOT_FOUND")
}

func TestClient_InvalidJSONIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodGet, srv.URL, nil, &out)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeMalformedResponse))
}

func TestClient_UnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodGet, addr, nil, nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
}

func TestClient_RewriteRoutesThroughProxy(t *testing.T) {
	var gotTarget string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.URL.Query().Get("url")
		w.Write([]byte(`{}`))
	}))
	defer proxy.Close()

	c := NewClient("test", "k", WithRewrite(func(target string) string {
		return proxy.URL + "?url=" + url.QueryEscape(target)
	}))
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "https://api.replicate.com/v1/models/a/b", nil, nil))
	assert.Equal(t, "https://api.replicate.com/v1/models/a/b", gotTarget)
}

func TestClient_LoadingModelReportsEstimatedWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Model is currently loading","estimated_time":20.5}`))
	}))
	defer srv.Close()

	err := NewClient("test", "k").DoJSON(context.Background(), http.MethodPost, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Model is currently loading (Estimated wait: 20.5s)")
}
