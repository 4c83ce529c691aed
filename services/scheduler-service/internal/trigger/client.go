package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const secretHeader = "X-Cron-Secret"

// Summary mirrors the booking service's reminder run result.
type Summary struct {
	Processed  int  `json:"processed"`
	Sent24Hour int  `json:"sent_24_hour"`
	Sent2Hour  int  `json:"sent_2_hour"`
	Failed     int  `json:"failed"`
	Skipped    int  `json:"skipped"`
	Locked     bool `json:"locked"`
	Errors     []struct {
		AppointmentID string `json:"appointment_id"`
		Kind          string `json:"kind"`
		Error         string `json:"error"`
	} `json:"errors"`
}

// StatusError is a non-200 answer from the booking service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("reminder trigger returned %d: %s", e.Code, e.Body)
}

// Retryable reports whether the failure may clear on its own.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

type Client struct {
	url    string
	secret string
	http   *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/internal/reminders/run",
		secret: secret,
		http:   &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (c *Client) Trigger(ctx context.Context) (Summary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(nil))
	if err != nil {
		return Summary{}, err
	}
	req.Header.Set(secretHeader, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return Summary{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Summary{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Summary{}, fmt.Errorf("decode reminder summary: %w", err)
	}
	return s, nil
}
