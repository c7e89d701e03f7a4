package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Promptq-Signature"
	HeaderDelivery  = "X-Promptq-Delivery"
	HeaderEvent     = "X-Promptq-Event"
)

// WebhookSink POSTs a signed Delivery to a fixed URL.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookSink(url, secret string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, secret: secret, client: client}
}

func (s *WebhookSink) Deliver(ctx context.Context, channelID, platform string, reply Reply) error {
	body, err := json.Marshal(newDelivery(channelID, platform, reply))
	if err != nil {
		return errors.Wrap(err, "encode webhook delivery")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDelivery, uuid.NewString())
	req.Header.Set(HeaderEvent, "job."+string(reply.Kind))
	if s.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post webhook")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("webhook returned %s", resp.Status)
	}
	return nil
}

// Sign returns the "sha256=<hex>" HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
