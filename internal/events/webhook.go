package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Ledger-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// WebhookSink POSTs events to a fixed set of URLs, signing each body with a
// shared secret.
type WebhookSink struct {
	urls       []string
	secret     string
	types      map[string]bool
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewWebhookSink creates a WebhookSink. When types is non-empty only those
// event types are delivered.
func NewWebhookSink(urls []string, secret string, types []string, logger *zap.Logger) *WebhookSink {
	s := &WebhookSink{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with exponential backoff: 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	return s
}

// SetMetricsRecorder configures the metrics callback.
func (s *WebhookSink) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

func (s *WebhookSink) Name() string { return "webhook" }

// Publish implements Sink. Deliveries run in the background; Wait blocks
// until they finish.
func (s *WebhookSink) Publish(_ context.Context, ev Event) error {
	if s.types != nil && !s.types[ev.Type] {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	signature := SignPayload(body, s.secret)

	for _, url := range s.urls {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			s.deliver(url, ev.Type, body, signature)
		}(url)
	}
	return nil
}

// Wait blocks until in-flight deliveries have finished.
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

// deliver sends body to a single URL with retries.
func (s *WebhookSink) deliver(url, eventType string, body []byte, signature string) {
	for attempt := 1; attempt <= len(s.delays); attempt++ {
		time.Sleep(s.delays[attempt-1])

		ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
		success, errMsg := s.doDelivery(ctx, url, body, signature)
		cancel()

		if s.onMetrics != nil {
			s.onMetrics(success)
		}
		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", url),
			zap.String("type", eventType),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
	s.logger.Error("webhook: giving up", zap.String("url", url), zap.String("type", eventType))
}

// doDelivery performs a single HTTP POST delivery.
func (s *WebhookSink) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return true, ""
}

// SignPayload computes an HMAC-SHA256 signature in "sha256=<hex>" form.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body under secret.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(body, secret)), []byte(signature))
}
