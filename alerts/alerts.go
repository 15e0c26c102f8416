// Package alerts notifies the operator chat when domains start blocking
// the bot: first 403, repeated 403s, low success rate and opened
// circuits. Duplicate alerts are suppressed with a per-domain cooldown.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"feedwatch/metrics"
	"feedwatch/telegram"
)

// Cooldown between repeated alerts of one kind for one domain.
const Cooldown = time.Hour

// consecutiveThreshold is how many 403s in a row trigger the repeated
// block alert.
const consecutiveThreshold = 3

// Sender delivers alert messages.
type Sender interface {
	Send(ctx context.Context, chatID, text string, mode telegram.ParseMode) error
}

// Alert kinds, used for cooldown keys and metrics labels.
const (
	kindFirstBlock  = "first_block"
	kindConsecutive = "consecutive_blocks"
	kindLowSuccess  = "low_success_rate"
	kindCircuitOpen = "circuit_open"
)

// Manager tracks per-domain blocking state and emits operator alerts.
// A nil sender or empty admin chat degrades to logging only.
type Manager struct {
	sender    Sender
	adminChat string

	mu          sync.Mutex
	firstSeen   map[string]bool
	consecutive map[string]int
	lastAlert   map[string]time.Time

	now func() time.Time
}

// NewManager returns a Manager sending alerts to adminChat.
func NewManager(sender Sender, adminChat string) *Manager {
	return &Manager{
		sender:      sender,
		adminChat:   adminChat,
		firstSeen:   make(map[string]bool),
		consecutive: make(map[string]int),
		lastAlert:   make(map[string]time.Time),
		now:         time.Now,
	}
}

// RequestFailed records a failed request. A 403 bumps the domain's
// consecutive-block counter and may raise the first-block or repeated
// block alert; other statuses only matter to the stats layer.
func (m *Manager) RequestFailed(domain string, statusCode int) {
	if statusCode != 403 {
		return
	}

	m.mu.Lock()
	m.consecutive[domain]++
	count := m.consecutive[domain]
	first := !m.firstSeen[domain]
	m.firstSeen[domain] = true
	m.mu.Unlock()

	if first {
		m.emit(kindFirstBlock, domain, false,
			fmt.Sprintf("⚠️ First block detected on %s (HTTP 403)", domain))
	}
	if count >= consecutiveThreshold {
		m.emit(kindConsecutive, domain, true,
			fmt.Sprintf("🚫 %s has blocked %d requests in a row", domain, count))
	}
}

// ResetConsecutive clears the domain's consecutive-block counter. Called
// on every successful request.
func (m *Manager) ResetConsecutive(domain string) {
	m.mu.Lock()
	delete(m.consecutive, domain)
	m.mu.Unlock()
}

// LowSuccess raises the low-success alert when the domain's success rate
// is under 50% over at least 10 requests.
func (m *Manager) LowSuccess(domain string, successRate float64, totalRequests int64) {
	if successRate >= 0.5 || totalRequests < 10 {
		return
	}
	m.emit(kindLowSuccess, domain, true,
		fmt.Sprintf("📉 Success rate for %s is %.0f%% over %d requests",
			domain, successRate*100, totalRequests))
}

// CircuitOpened raises the circuit-open alert. Wired to the breaker's
// OnOpen callback.
func (m *Manager) CircuitOpened(resource string) {
	m.emit(kindCircuitOpen, resource, true,
		fmt.Sprintf("🔌 Circuit breaker opened for %s", resource))
}

// emit sends one alert, applying the cooldown when asked. Delivery is
// best-effort and asynchronous so the fetch path never blocks on the
// chat backend.
func (m *Manager) emit(kind, domain string, cooldown bool, text string) {
	if cooldown {
		key := kind + ":" + domain
		m.mu.Lock()
		if last, ok := m.lastAlert[key]; ok && m.now().Sub(last) < Cooldown {
			m.mu.Unlock()
			return
		}
		m.lastAlert[key] = m.now()
		m.mu.Unlock()
	}

	metrics.IncrementAlert(kind)
	log.WithFields(log.Fields{
		"kind":   kind,
		"domain": domain,
	}).Warn(text)

	if m.sender == nil || m.adminChat == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.sender.Send(ctx, m.adminChat, text, telegram.ModePlain); err != nil {
			log.WithError(err).WithField("kind", kind).Error("Failed to deliver alert")
		}
	}()
}
