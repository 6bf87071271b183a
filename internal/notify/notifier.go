package notify

import (
	"log/slog"
	"sync"

	"banking-ledger/internal/domain"
)

// Listener receives transaction lifecycle events. Implementations must
// tolerate concurrent invocation; delivery is fire-and-forget and a failing
// listener never affects the transaction outcome.
type Listener interface {
	OnTransactionInitiated(tx *domain.Transaction)
	OnTransactionCompleted(tx *domain.Transaction)
	OnTransactionFailed(tx *domain.Transaction, reason string)
}

// Notifier broadcasts transaction events to a registry of independent
// listeners. Each listener is invoked behind a recover so a panic in one
// cannot reach another listener or the caller.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) Register(listener Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range n.listeners {
		if l == listener {
			return
		}
	}
	n.listeners = append(n.listeners, listener)
}

func (n *Notifier) Unregister(listener Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, l := range n.listeners {
		if l == listener {
			n.listeners = append(n.listeners[:i], n.listeners[i+1:]...)
			return
		}
	}
}

func (n *Notifier) ListenerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

func (n *Notifier) NotifyInitiated(tx *domain.Transaction) {
	for _, l := range n.snapshot() {
		n.dispatch(tx, func() { l.OnTransactionInitiated(tx) })
	}
}

func (n *Notifier) NotifyCompleted(tx *domain.Transaction) {
	for _, l := range n.snapshot() {
		n.dispatch(tx, func() { l.OnTransactionCompleted(tx) })
	}
}

func (n *Notifier) NotifyFailed(tx *domain.Transaction, reason string) {
	for _, l := range n.snapshot() {
		n.dispatch(tx, func() { l.OnTransactionFailed(tx, reason) })
	}
}

func (n *Notifier) snapshot() []Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	listeners := make([]Listener, len(n.listeners))
	copy(listeners, n.listeners)
	return listeners
}

func (n *Notifier) dispatch(tx *domain.Transaction, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification listener panicked",
				"reference_number", tx.ReferenceNumber,
				"panic", r)
		}
	}()
	fn()
}

// LogListener writes lifecycle events to the structured log. It stands in
// for external delivery channels (email, SMS) whose transports live outside
// this service.
type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnTransactionInitiated(tx *domain.Transaction) {
	l.logger.Info("transaction initiated",
		"reference_number", tx.ReferenceNumber,
		"type", tx.TransactionType,
		"account_number", tx.AccountNumber,
		"amount", tx.Amount)
}

func (l *LogListener) OnTransactionCompleted(tx *domain.Transaction) {
	l.logger.Info("transaction completed",
		"reference_number", tx.ReferenceNumber,
		"type", tx.TransactionType,
		"account_number", tx.AccountNumber,
		"amount", tx.Amount,
		"balance_after", tx.BalanceAfter)
}

func (l *LogListener) OnTransactionFailed(tx *domain.Transaction, reason string) {
	l.logger.Warn("transaction failed",
		"reference_number", tx.ReferenceNumber,
		"type", tx.TransactionType,
		"account_number", tx.AccountNumber,
		"reason", reason)
}
