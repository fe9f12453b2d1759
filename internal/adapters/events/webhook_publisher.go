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
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// EventEncoder turns a typed event into its wire envelope.
type EventEncoder interface {
	Encode(event domain.Event) (domain.EventEnvelope, error)
}

// WebhookPublisher forwards events to an HTTP endpoint, signed with
// HMAC-SHA256. Non-2xx responses are errors, so the dispatcher's failure
// policy (or the outbox retry budget) decides what happens next.
type WebhookPublisher struct {
	url     string
	secret  []byte
	client  *http.Client
	encoder EventEncoder
}

// NewWebhookPublisher returns a WebhookPublisher that POSTs events to url and
// signs them with secret. A zero or negative timeout falls back to
// defaultWebhookTimeout.
func NewWebhookPublisher(url, secret string, timeout time.Duration, encoder EventEncoder) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:     url,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: timeout},
		encoder: encoder,
	}
}

// Handle matches dispatch.Handler.
func (p *WebhookPublisher) Handle(ctx context.Context, event domain.Event) error {
	envelope, err := p.encoder.Encode(event)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("events.%s.%s.%s", envelope.TenantID, envelope.AggregateType, envelope.EventType)
	return p.Publish(ctx, topic, envelope)
}

// Publish POSTs the envelope. Every request carries:
//
//	Content-Type:            application/json
//	X-Useraudit-Topic:       <topic>
//	X-Useraudit-Event-Type:  <event.EventType>
//	X-Useraudit-Tenant:      <event.TenantID>
//	X-Hub-Signature-256:     sha256=<hex-encoded HMAC-SHA256>
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Useraudit-Topic", topic)
	req.Header.Set("X-Useraudit-Event-Type", string(event.EventType))
	req.Header.Set("X-Useraudit-Tenant", event.TenantID)
	req.Header.Set("X-Hub-Signature-256", "sha256="+p.sign(payload))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookPublisher) sign(payload []byte) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
