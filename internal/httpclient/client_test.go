package httpclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleoncloud/doni/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestDefaultClient_Do(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		method        string
		body          any
		allowed       []int
		status        int
		response      string
		wantErr       bool
		wantStatus    int
		errorContains string
	}{
		{
			name:       "successful GET",
			method:     http.MethodGet,
			status:     http.StatusOK,
			response:   `{"uuid":"abc"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "POST with JSON body",
			method:     http.MethodPost,
			body:       map[string]string{"name": "node-1"},
			status:     http.StatusCreated,
			response:   `{"uuid":"abc"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "allowed 404 is not an error",
			method:     http.MethodGet,
			allowed:    []int{http.StatusNotFound},
			status:     http.StatusNotFound,
			response:   `{}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:          "unexpected 409 returns APIError with body message",
			method:        http.MethodPut,
			body:          map[string]string{},
			status:        http.StatusConflict,
			response:      `{"error_message":"{\"faultstring\":\"Node is locked\"}"}`,
			wantErr:       true,
			wantStatus:    http.StatusConflict,
			errorContains: "Node is locked",
		},
		{
			name:          "plain text error body",
			method:        http.MethodDelete,
			status:        http.StatusInternalServerError,
			response:      "boom",
			wantErr:       true,
			wantStatus:    http.StatusInternalServerError,
			errorContains: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.method, r.Method)
				assert.Equal(t, "/v1/nodes/abc", r.URL.Path)
				assert.Equal(t, httpclient.UserAgent, r.Header.Get("User-Agent"))
				if tt.body != nil {
					assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
					var decoded map[string]any
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client := httpclient.NewDefaultClient(server.URL + "/")
			resp, err := client.Do(context.Background(), tt.method, "/v1/nodes/abc", tt.body, tt.allowed...)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantStatus, httpclient.StatusCode(err))
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.response, string(resp.Body))
		})
	}
}

func TestDefaultClient_Headers(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "1.51", r.Header.Get("X-OpenStack-Ironic-API-Version"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"nodes":[{"uuid":"a"},{"uuid":"b"}]}`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(server.URL,
		httpclient.WithAuthToken("secret"),
		httpclient.WithBearerToken(""),
		httpclient.WithHeader("X-OpenStack-Ironic-API-Version", "1.51"),
	)
	resp, err := client.Get(context.Background(), "/v1/nodes")
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Get("nodes.#").Int())
	assert.Equal(t, "b", resp.Get("nodes.1.uuid").String())

	var decoded struct {
		Nodes []struct {
			UUID string `json:"uuid"`
		} `json:"nodes"`
	}
	require.NoError(t, resp.Decode(&decoded))
	assert.Len(t, decoded.Nodes, 2)
}

func TestDefaultClient_BearerToken(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"value":"x"}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(server.URL, httpclient.WithBearerToken("tok"))
	resp, err := client.Patch(context.Background(), "/v6/device", map[string]string{"value": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Body)
}

func TestDefaultClient_Timeout(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(server.URL, httpclient.WithTimeout(20*time.Millisecond))
	_, err := client.Get(context.Background(), "/slow")
	require.Error(t, err)
	assert.True(t, httpclient.IsTransient(err))
}

func TestDefaultClient_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := httpclient.NewDefaultClient(server.URL)
	_, err := client.Get(ctx, "/")
	require.Error(t, err)
	assert.False(t, httpclient.IsTransient(err))
}
