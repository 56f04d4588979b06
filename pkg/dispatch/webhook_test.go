package dispatch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookDispatcher() *HTTPWebhookDispatcher {
	return NewHTTPWebhookDispatcher(NewMemoryIdempotencyStore(), slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestHTTPWebhookDispatcher_ForwardsRequest(t *testing.T) {
	var gotMethod, gotBody, gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMethod = r.Method
		gotBody = string(body)
		gotHeader = r.Header.Get("X-Signature")

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := webhookDispatcher().Call(context.Background(), WebhookRequest{
		URL:     server.URL,
		Method:  http.MethodPut,
		Headers: map[string]string{"X-Signature": "sig-1"},
		Body:    `{"deal_id":"deal-1"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, `{"deal_id":"deal-1"}`, gotBody)
	assert.Equal(t, "sig-1", gotHeader)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, resp.Body)
}

func TestHTTPWebhookDispatcher_DefaultsToPost(t *testing.T) {
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer server.Close()

	_, err := webhookDispatcher().Call(context.Background(), WebhookRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestHTTPWebhookDispatcher_ServerErrorIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := webhookDispatcher().Call(context.Background(), WebhookRequest{URL: server.URL})
	assert.Error(t, err)
}

func TestHTTPWebhookDispatcher_ClientErrorIsReturnedNotRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := webhookDispatcher().Call(context.Background(), WebhookRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPWebhookDispatcher_TimeoutSurfacesAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := webhookDispatcher().Call(context.Background(), WebhookRequest{
		URL:     server.URL,
		Timeout: 20 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestHTTPWebhookDispatcher_DuplicateKeyShortCircuits(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := webhookDispatcher()

	req := WebhookRequest{URL: server.URL, IdempotencyKey: "enr-1:webhook"}

	_, err := d.Call(context.Background(), req)
	require.NoError(t, err)

	resp, err := d.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPWebhookDispatcher_FailedCallDoesNotBurnKey(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	d := webhookDispatcher()

	req := WebhookRequest{URL: server.URL, IdempotencyKey: "enr-1:webhook"}

	_, err := d.Call(context.Background(), req)
	require.Error(t, err)

	resp, err := d.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
