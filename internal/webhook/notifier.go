// Package webhook delivers purchase notifications to an external
// endpoint (typically a Discord bot bridge).  Deliveries are fire and
// forget: failures are logged, never surfaced to the purchaser.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Clubsync-Signature"

// Notifier posts signed JSON payloads to a configured URL.
type Notifier struct {
	url    string
	secret []byte
	httpc  *http.Client
	log    *zap.Logger
}

// NewNotifier builds a Notifier.  An empty url disables delivery.
func NewNotifier(url, secret string, log *zap.Logger) *Notifier {
	return &Notifier{
		url:    url,
		secret: []byte(secret),
		httpc:  &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Enabled reports whether a delivery URL is configured.
func (n *Notifier) Enabled() bool { return n.url != "" }

// Sign returns the hex HMAC-SHA256 of body under the shared secret.
func (n *Notifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify serializes payload and posts it in a background goroutine.  The
// caller's request context is not used so an immediate response to the
// client cannot cancel the delivery.
func (n *Notifier) Notify(payload interface{}) {
	if !n.Enabled() {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("webhook payload marshal failed", zap.Error(err))
		return
	}
	go n.deliver(body)
}

func (n *Notifier) deliver(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Error("webhook request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, n.Sign(body))

	resp, err := n.httpc.Do(req)
	if err != nil {
		n.log.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("webhook rejected", zap.Int("status", resp.StatusCode))
	}
}
