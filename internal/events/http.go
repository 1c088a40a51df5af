package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrInvalidEvent is returned when the feed responds with a payload lacking an event id
var ErrInvalidEvent = errors.New("invalid event payload")

// HTTPError is a non-2xx response of the change feed
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// HTTPConfig configures HTTPTransport
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPTransport reads the change feed over HTTP
type HTTPTransport struct {
	client *resty.Client
}

// NewHTTPTransport creates a new HTTP transport
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	for name, value := range cfg.Headers {
		cli.SetHeader(name, value)
	}

	return &HTTPTransport{client: cli}, nil
}

// GetEvents requests the next event after cursor
func (t *HTTPTransport) GetEvents(ctx context.Context, cursor Cursor) (RawChangeEvent, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("cursor", string(cursor)).
		Get("/events/{cursor}")
	if err != nil {
		return RawChangeEvent{}, fmt.Errorf("events request: %w", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return RawChangeEvent{}, err
	}

	var event RawChangeEvent
	if err = json.Unmarshal(resp.Body(), &event); err != nil {
		return RawChangeEvent{}, fmt.Errorf("decode event: %w", err)
	}
	if event.EventID == "" {
		return RawChangeEvent{}, ErrInvalidEvent
	}
	return event, nil
}

// GetLatestEventID returns the current head of the feed
func (t *HTTPTransport) GetLatestEventID(ctx context.Context) (Cursor, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		Get("/events/latest")
	if err != nil {
		return "", fmt.Errorf("latest event request: %w", err)
	}
	if err = mapHTTPError(resp); err != nil {
		return "", err
	}

	var latest struct {
		EventID Cursor `json:"EventID"`
	}
	if err = json.Unmarshal(resp.Body(), &latest); err != nil {
		return "", fmt.Errorf("decode latest event id: %w", err)
	}
	if latest.EventID == "" {
		return "", ErrInvalidEvent
	}
	return latest.EventID, nil
}

func mapHTTPError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(resp.StatusCode())
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Body: body}
}
