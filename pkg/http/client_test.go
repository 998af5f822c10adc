package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, "day", r.URL.Query().Get("period"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(time.Second), WithHeader("X-API-Key", "k"), WithHeader("X-Empty", ""))
	body, err := c.Get(context.Background(), srv.URL+"/history?v=1", url.Values{"period": {"day"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_GetStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient().Get(context.Background(), srv.URL, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
	assert.True(t, se.Temporary())

	assert.False(t, (&StatusError{Code: http.StatusNotFound}).Temporary())
	assert.True(t, (&StatusError{Code: http.StatusBadGateway}).Temporary())
}
