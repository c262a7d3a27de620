package electrum

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// missThreshold is the number of consecutive failed pings after which a
// connection is declared unhealthy and a reconnect is signaled, per §4.6.
const missThreshold = 3

// HealthMonitor periodically pings a Client and tracks consecutive misses,
// turning the teacher's reactive reconnect-on-error pattern (seen in
// backend.go's isConnectionError/handleClientError) proactive.
type HealthMonitor struct {
	client *Client

	misses atomic.Int32

	mu        sync.Mutex
	cron      *cron.Cron
	entryID   cron.EntryID
	onUnhealthy func(*Client)
}

// NewHealthMonitor builds a monitor for client that calls onUnhealthy once
// the miss threshold is crossed. The interval argument is not used here; the
// ping schedule is set by Start.
func NewHealthMonitor(client *Client, interval time.Duration, onUnhealthy func(*Client)) *HealthMonitor {
	return &HealthMonitor{
		client:      client,
		cron:        cron.New(),
		onUnhealthy: onUnhealthy,
	}
}

// Start begins the periodic ping schedule using a cron spec for interval.
// Electrum server.ping calls are cheap so a simple "@every" spec is used
// rather than a full cron expression.
func (h *HealthMonitor) Start(interval time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	spec := "@every " + interval.String()
	id, err := h.cron.AddFunc(spec, h.tick)
	if err != nil {
		return err
	}
	h.entryID = id
	h.cron.Start()
	return nil
}

// Stop halts the ping schedule.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cron.Stop()
}

// Misses returns the current consecutive-miss count.
func (h *HealthMonitor) Misses() int {
	return int(h.misses.Load())
}

func (h *HealthMonitor) tick() {
	if err := h.client.Ping(); err != nil {
		n := h.misses.Add(1)
		if int(n) >= missThreshold && h.onUnhealthy != nil {
			h.onUnhealthy(h.client)
		}
		return
	}
	h.misses.Store(0)
}
