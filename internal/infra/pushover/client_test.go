package pushover_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/infra/pushover"
)

func TestNotify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "app", r.PostForm.Get("token"))
		assert.Equal(t, "user", r.PostForm.Get("user"))
		assert.Equal(t, "Kitchen voice: microphone permission denied", r.PostForm.Get("message"))
		assert.Equal(t, "Kitchen Voice", r.PostForm.Get("title"))
		w.Write([]byte(`{"status":1}`))
	}))
	defer server.Close()

	client := pushover.NewClientWithURL("app", "user", "", server.URL)
	require.True(t, client.Enabled())
	require.NoError(t, client.Notify(context.Background(), "Kitchen voice: microphone permission denied"))
}

func TestNotify_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":0,"errors":["user key is invalid"]}`, http.StatusBadRequest)
	}))
	defer server.Close()

	err := pushover.NewClientWithURL("app", "bad", "Line", server.URL).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "user key is invalid")
}

func TestNotify_DisabledWithoutCredentials(t *testing.T) {
	client := pushover.NewClientWithURL("", "", "", "http://127.0.0.1:1")
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Notify(context.Background(), "ignored"))
}
