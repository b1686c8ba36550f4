package notify

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TelegramNotifier sends best-effort operator messages. Alerts are
// throttled per situation key so one stuck condition produces at most one
// message per cooldown window. With empty credentials every send is a
// silent no-op, which keeps tests and dry runs quiet.
type TelegramNotifier struct {
	token    string
	chatID   string
	apiBase  string
	cooldown time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

const defaultAlertCooldown = 5 * time.Minute

func NewTelegramNotifier(token, chatID string, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		token:    token,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		cooldown: defaultAlertCooldown,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Send delivers a message immediately. Returns false on any failure;
// delivery is never required for trading to proceed.
func (n *TelegramNotifier) Send(msg string) bool {
	if n.token == "" || n.chatID == "" {
		return false
	}

	endpoint := n.apiBase + "/bot" + n.token + "/sendMessage"
	form := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	resp, err := n.client.Post(endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("telegram send rejected", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// Alert sends an error-class message throttled per situation key.
func (n *TelegramNotifier) Alert(key, msg string) bool {
	n.mu.Lock()
	last := n.lastSent[key]
	now := n.now()
	if now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		return false
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	return n.Send("⚠️ <b>ERROR</b>\n" + msg)
}
