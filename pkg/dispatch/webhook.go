package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/whatsgate/whatsgate/pkg/logger"
)

// WebhookNotifier posts resolved replies to caller-supplied URLs. Failures
// never propagate past the caller that invoked Deliver; the correlation
// engine only logs them.
type WebhookNotifier struct {
	client *http.Client
}

func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type payload struct {
	To    string  `json:"to"`
	Reply *string `json:"reply"`
}

// Deliver posts {"to": ..., "reply": ...} to rawURL. A nil reply marks a
// timed-out wait and serializes as JSON null. The URL scheme selects plain
// or TLS transport; an omitted port defaults to the scheme's standard one.
func (n *WebhookNotifier) Deliver(ctx context.Context, rawURL string, to string, reply *string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid callback url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid callback url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid callback url %q: missing host", rawURL)
	}

	body, err := json.Marshal(payload{To: to, Reply: reply})
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback post failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned %s", resp.Status)
	}

	logger.DebugCF("dispatch", "Webhook delivered", map[string]interface{}{
		"url": u.String(),
		"to":  to,
	})
	return nil
}
