package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSetsRequiredHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "bpmflow-webhooks/1.0", 4096)
	resp, _, err := client.Send(context.Background(), Request{
		URL:         server.URL,
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.completed",
		Signature:   "sig-value",
		Body:        []byte(`{"a":1}`),
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "bpmflow-webhooks/1.0", gotHeaders.Get("User-Agent"))
	assert.Equal(t, "task.completed", gotHeaders.Get("X-Event-Type"))
	assert.Equal(t, "sig-value", gotHeaders.Get("X-Webhook-Signature"))
}

func TestSendOmitsSignatureWithoutSecret(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "bpmflow-webhooks/1.0", 4096)
	resp, _, err := client.Send(context.Background(), Request{
		URL:         server.URL,
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.created",
		Body:        []byte(`{}`),
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, present := gotHeaders["X-Webhook-Signature"]
	assert.False(t, present, "signature header must be absent without a secret")
}

func TestSendReturnsNon2xxAsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "ua", 4096)
	resp, _, err := client.Send(context.Background(), Request{
		URL:         server.URL,
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.completed",
		Body:        []byte(`{}`),
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err, "a received HTTP response is never a transport error")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", resp.Body)
}

func TestSendTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.Client(), "ua", 4096)
	resp, elapsed, err := client.Send(context.Background(), Request{
		URL:         server.URL,
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.completed",
		Body:        []byte(`{}`),
		Timeout:     50 * time.Millisecond,
	})

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Greater(t, elapsed, time.Duration(0))
}

func TestSendConnectionRefused(t *testing.T) {
	client := NewClient(http.DefaultClient, "ua", 4096)
	resp, _, err := client.Send(context.Background(), Request{
		URL:         "http://127.0.0.1:1", // nothing listens here
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.completed",
		Body:        []byte(`{}`),
		Timeout:     time.Second,
	})

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestSendTruncatesResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			_, _ = w.Write([]byte("0123456789"))
		}
	}))
	defer server.Close()

	client := NewClient(server.Client(), "ua", 64)
	resp, _, err := client.Send(context.Background(), Request{
		URL:         server.URL,
		Method:      "POST",
		ContentType: "application/json",
		EventType:   "task.completed",
		Body:        []byte(`{}`),
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Body, 64)
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(200))
	assert.True(t, IsSuccess(201))
	assert.True(t, IsSuccess(299))
	assert.False(t, IsSuccess(199))
	assert.False(t, IsSuccess(300))
	assert.False(t, IsSuccess(404))
	assert.False(t, IsSuccess(500))
}
