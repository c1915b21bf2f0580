// Package transport delivers queued actions over the wire.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
)

// maxResponseBody caps how much of a reply is kept on a Result.
const maxResponseBody = 1 << 20

// Sender executes one action and reports the reply. Any non-2xx status is
// returned as an *HTTPError together with the captured response.
type Sender interface {
	Send(ctx context.Context, a actions.Action) (*actions.Response, error)
}

// HTTPError is a non-2xx reply from the remote service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// HTTPSender sends actions as JSON requests. Relative endpoints are resolved
// against baseURL.
type HTTPSender struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSender creates a sender. headers are added to every request before
// the action's own headers. A zero timeout leaves timing to the caller's
// context.
func NewHTTPSender(baseURL string, headers map[string]string, timeout time.Duration, logger *slog.Logger) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "transport"),
	}
}

// Send performs the request described by a.
func (s *HTTPSender) Send(ctx context.Context, a actions.Action) (*actions.Response, error) {
	req, err := s.newRequest(ctx, a)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", a.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &actions.Response{StatusCode: resp.StatusCode, Body: jsonBody(body)}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	s.logger.Debug("action delivered", "action_id", a.ID, "status", resp.StatusCode)
	return out, nil
}

func (s *HTTPSender) newRequest(ctx context.Context, a actions.Action) (*http.Request, error) {
	var body io.Reader
	if a.Method != http.MethodGet && a.Payload != nil {
		data, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, s.resolve(a.Endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Action-Id", a.ID)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (s *HTTPSender) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return s.baseURL + endpoint
}

// jsonBody keeps valid JSON as-is and wraps anything else as a JSON string.
func jsonBody(b []byte) json.RawMessage {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
