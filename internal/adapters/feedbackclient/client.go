// Package feedbackclient реализует клиентскую сторону HTTP-контракта отзывов.
package feedbackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedback-sync/internal/adapters/wire"
	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/metrics"
)

// RequestIDHeader передаётся с каждым запросом.
const RequestIDHeader = "X-Request-Id"

// ErrUnsuccessful возвращается, если сервер ответил 2xx, но success=false.
var ErrUnsuccessful = errors.New("feedback api reported failure")

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

var _ domain.Transport = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// StatusError описывает ответ сервера с кодом вне 2xx.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("feedback api error: status=%d", e.Code)
	}
	return fmt.Sprintf("feedback api error: status=%d message=%s", e.Code, e.Message)
}

// Unwrap связывает 400 с ошибкой валидации и 404 с отсутствием записи.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusNotFound:
		return domain.ErrNotFound
	default:
		return nil
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Submit отправляет одну запись и возвращает её серверный id.
func (c *Client) Submit(ctx context.Context, record domain.Record) (int64, error) {
	var resp wire.SubmitResponse
	if err := c.send(ctx, "submit", http.MethodPost, "/api/feedback", nil, wire.FromRecord(record), &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, ErrUnsuccessful
	}
	return resp.FeedbackID, nil
}

// SubmitBatch отправляет пакет записей одним запросом.
func (c *Client) SubmitBatch(ctx context.Context, records []domain.Record) (domain.BatchResult, error) {
	req := wire.BatchRequest{Feedbacks: make([]wire.Feedback, 0, len(records))}
	for _, r := range records {
		req.Feedbacks = append(req.Feedbacks, wire.FromRecord(r))
	}
	var resp wire.BatchResponse
	if err := c.send(ctx, "submit_batch", http.MethodPost, "/api/feedback/batch", nil, req, &resp); err != nil {
		return domain.BatchResult{}, err
	}
	if !resp.Success {
		return domain.BatchResult{}, ErrUnsuccessful
	}
	return resp.ToBatchResult(), nil
}

// Fetch читает запись с сервера; 404 даёт domain.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, messageID string) (domain.Record, error) {
	var resp wire.GetResponse
	endpoint := "/api/feedback/" + url.PathEscape(messageID)
	if err := c.send(ctx, "fetch", http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return domain.Record{}, err
	}
	if !resp.Success {
		return domain.Record{}, ErrUnsuccessful
	}
	kind, err := domain.ParseKind(resp.Feedback.FeedbackType)
	if err != nil {
		return domain.Record{}, fmt.Errorf("decode response: %w", err)
	}
	ts, err := wire.ParseTime(resp.Feedback.Timestamp)
	if err != nil {
		return domain.Record{}, fmt.Errorf("decode response: %w", err)
	}
	return domain.Record{
		MessageID: resp.Feedback.MessageID,
		Kind:      kind,
		Timestamp: ts,
		SessionID: resp.Feedback.SessionID,
		Metadata:  resp.Feedback.Metadata,
	}, nil
}

// Stats запрашивает агрегаты за days дней; ноль оставляет окно серверу.
func (c *Client) Stats(ctx context.Context, days int, sessionID string) (domain.Stats, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", strconv.Itoa(days))
	}
	if sessionID != "" {
		query.Set("sessionId", sessionID)
	}
	var resp wire.StatsResponse
	if err := c.send(ctx, "stats", http.MethodGet, "/api/feedback/stats", query, nil, &resp); err != nil {
		return domain.Stats{}, err
	}
	if !resp.Success {
		return domain.Stats{}, ErrUnsuccessful
	}
	return resp.Stats.ToStats(), nil
}

// Health проверяет доступность сервера.
func (c *Client) Health(ctx context.Context) (domain.Health, error) {
	var resp wire.Health
	if err := c.send(ctx, "health", http.MethodGet, "/api/health", nil, nil, &resp); err != nil {
		return domain.Health{}, err
	}
	return resp.ToHealth()
}

func (c *Client) send(ctx context.Context, operation, method, endpoint string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.do(req, out)
	metrics.ObserveNetworkRequest("feedbackclient", operation, c.baseURL.Host, start, err)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	rawPath := path.Clean(basePath + endpoint)
	unescaped, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("build path: %w", err)
	}
	resolved.Path = unescaped
	resolved.RawPath = rawPath
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feedback api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr wire.ErrorResponse
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
