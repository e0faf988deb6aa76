package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsText(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), "order 7 fulfilled")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"text": "order 7 fulfilled"}, got)
}

func TestWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), "hello")
	require.Error(t, err)

	var gerr *goerrors.Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, ErrCodeWebhookFailed, gerr.TextCode)
	assert.Contains(t, err.Error(), "403")
}

type recorder struct {
	got []string
	err error
}

func (r *recorder) Notify(_ context.Context, msg string) error {
	r.got = append(r.got, msg)
	return r.err
}

func TestMultiTriesEveryNotifier(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}

	err := Multi{a, LogNotifier{}, b}.Notify(context.Background(), "msg")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"msg"}, a.got)
	assert.Equal(t, []string{"msg"}, b.got)
}

func TestMultiEmpty(t *testing.T) {
	assert.NoError(t, Multi{}.Notify(context.Background(), "msg"))
}
