package web

import (
	"sync"

	"github.com/hpungsan/tcap/internal/app"
)

// Flash queues toasts between a POST and the page rendered after its redirect.
type Flash struct {
	mu     sync.Mutex
	toasts []app.Toast
}

// NewFlash returns an empty queue.
func NewFlash() *Flash {
	return &Flash{}
}

// Notify implements app.Notifier.
func (f *Flash) Notify(t app.Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, t)
}

// Drain returns the queued toasts and empties the queue.
func (f *Flash) Drain() []app.Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.toasts
	f.toasts = nil
	return out
}
