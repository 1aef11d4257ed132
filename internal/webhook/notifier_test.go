package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSign(t *testing.T) {
	n := NewNotifier("http://example.com", "topsecret", zap.NewNop())
	body := []byte(`{"order_id":7}`)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, n.Sign(body))
	assert.NotEqual(t, want, n.Sign([]byte(`{"order_id":8}`)), "different bodies must not share a signature")
}

func TestNotifyDeliversSignedPayload(t *testing.T) {
	type received struct {
		body []byte
		sig  string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, sig: r.Header.Get(SignatureHeader)}
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "topsecret", zap.NewNop())
	require.True(t, n.Enabled())
	n.Notify(map[string]interface{}{"order_id": 7, "org": "acm"})

	select {
	case rec := <-got:
		assert.Equal(t, n.Sign(rec.body), rec.sig, "signature must cover the exact wire bytes")
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.body, &payload))
		assert.Equal(t, "acm", payload["org"])
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestNotifyDisabledWithoutURL(t *testing.T) {
	n := NewNotifier("", "topsecret", zap.NewNop())
	assert.False(t, n.Enabled())
	// must be a silent no-op
	n.Notify(map[string]string{"hello": "world"})
}

func TestNotifySwallowsUnserializablePayload(t *testing.T) {
	n := NewNotifier("http://example.invalid", "topsecret", zap.NewNop())
	n.Notify(map[string]interface{}{"bad": func() {}})
}
