package events

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *HTTPTransport {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	transport, err := NewHTTPTransport(HTTPConfig{
		BaseURL: srv.URL + "/",
		Timeout: 5 * time.Second,
		Headers: map[string]string{"x-pm-appversion": "mailsync@test"},
	})
	require.NoError(t, err)
	return transport
}

func TestNewHTTPTransportRequiresURL(t *testing.T) {
	_, err := NewHTTPTransport(HTTPConfig{})
	assert.Error(t, err)
}

func TestGetEvents(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/events/abc", r.URL.Path)
		assert.Equal(t, "mailsync@test", r.Header.Get("x-pm-appversion"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"EventID": "def",
			"More": 1,
			"MessageCounts": [{"LabelID": "15", "Total": 10, "Unread": 3}],
			"Messages": [{"ID": "m1", "Action": 1, "Data": {"Subject": "hi"}}]
		}`))
	})

	event, err := transport.GetEvents(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, Cursor("def"), event.EventID)
	assert.True(t, event.HasMore())
	assert.False(t, event.RefreshRequired())
	require.Len(t, event.MessageCounts, 1)
	assert.Equal(t, 3, event.MessageCounts[0].Unread)
	require.Len(t, event.Messages, 1)
	assert.Equal(t, ActionCreate, event.Messages[0].Action)
	assert.JSONEq(t, `{"Subject":"hi"}`, string(event.Messages[0].Data))
}

func TestGetEventsRefresh(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"EventID": "def", "More": 0, "Refresh": 1}`))
	})

	event, err := transport.GetEvents(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, event.RefreshRequired())
}

func TestGetEventsMissingEventID(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"More": 0}`))
	})

	_, err := transport.GetEvents(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestGetEventsHTTPError(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("try later"))
	})

	_, err := transport.GetEvents(context.Background(), "abc")
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "try later", httpErr.Body)
}

func TestGetEventsHTTPErrorEmptyBody(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := transport.GetEvents(context.Background(), "abc")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusText(http.StatusUnauthorized), httpErr.Body)
}

func TestGetLatestEventID(t *testing.T) {
	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"EventID": "head"}`))
	})

	cursor, err := transport.GetLatestEventID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Cursor("head"), cursor)
}
