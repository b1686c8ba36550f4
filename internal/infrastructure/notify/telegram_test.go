package notify

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestNotifier(t *testing.T, handler http.HandlerFunc) (*TelegramNotifier, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if handler != nil {
			handler(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	n := NewTelegramNotifier("token", "chat", zap.NewNop())
	n.apiBase = srv.URL
	return n, &calls
}

func TestSend_NoCredentialsIsNoop(t *testing.T) {
	n := NewTelegramNotifier("", "", zap.NewNop())
	assert.False(t, n.Send("hello"))
}

func TestSend_DeliversForm(t *testing.T) {
	var gotChat, gotText string
	n, calls := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotChat = r.PostFormValue("chat_id")
		gotText = r.PostFormValue("text")
	})

	assert.True(t, n.Send("hello"))
	assert.Equal(t, 1, *calls)
	assert.Equal(t, "chat", gotChat)
	assert.Equal(t, "hello", gotText)
}

func TestSend_ServerErrorReturnsFalse(t *testing.T) {
	n, _ := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	assert.False(t, n.Send("hello"))
}

func TestAlert_ThrottledPerKey(t *testing.T) {
	n, calls := newTestNotifier(t, nil)

	now := time.Unix(1000, 0)
	n.now = func() time.Time { return now }

	assert.True(t, n.Alert("acct:buy:BTC", "first"))
	assert.False(t, n.Alert("acct:buy:BTC", "suppressed"))
	assert.Equal(t, 1, *calls)

	// A distinct situation key is not throttled by the first.
	assert.True(t, n.Alert("acct:sell:BTC", "other situation"))
	assert.Equal(t, 2, *calls)

	now = now.Add(defaultAlertCooldown)
	assert.True(t, n.Alert("acct:buy:BTC", "after cooldown"))
	assert.Equal(t, 3, *calls)
}
