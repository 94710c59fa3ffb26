// Package activity tracks when each joined leaf was last heard from.
//
// Leaves report on a fixed interval. The Tracker records the last time
// each node sent anything and fires a silence callback when a node's
// inactivity exceeds ReportInterval × TimeoutMultiplier. A silent node is
// forgotten until it is heard from again.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultReportInterval is the expected interval between leaf reports.
	DefaultReportInterval = 5 * time.Minute

	// DefaultTimeoutMultiplier is applied to ReportInterval to get the
	// silence timeout.
	DefaultTimeoutMultiplier = 2.5

	// DefaultCheckInterval is the resolution of the timeout check loop.
	DefaultCheckInterval = time.Second
)

// NodeState is a tracked leaf's activity.
type NodeState struct {
	Node      uint8
	FirstSeen time.Time
	LastSeen  time.Time
	Messages  uint32
}

// Config configures a Tracker.
type Config struct {
	// ReportInterval is how often leaves are expected to send.
	// Default: 5 minutes.
	ReportInterval time.Duration

	// TimeoutMultiplier is applied to ReportInterval to determine when a
	// node is considered silent. Default: 2.5.
	TimeoutMultiplier float64

	// CheckInterval is how often Start checks for silent nodes.
	// Default: 1 second.
	CheckInterval time.Duration

	// Logger for activity events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Tracker tracks active leaves and detects silent ones.
type Tracker struct {
	cfg      Config
	log      *slog.Logger
	mu       sync.Mutex
	nodes    map[uint8]*NodeState
	onSilent func(state NodeState)
	stop     chan struct{}
	stopOnce sync.Once

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a Tracker with the given configuration.
func New(cfg Config) *Tracker {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.TimeoutMultiplier <= 0 {
		cfg.TimeoutMultiplier = DefaultTimeoutMultiplier
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:   cfg,
		log:   logger.WithGroup("activity"),
		nodes: make(map[uint8]*NodeState),
		stop:  make(chan struct{}),
		nowFn: time.Now,
	}
}

// Timeout returns the inactivity after which a node is considered silent.
func (t *Tracker) Timeout() time.Duration {
	return time.Duration(float64(t.cfg.ReportInterval) * t.cfg.TimeoutMultiplier)
}

// SetOnSilent sets the callback invoked when a node goes silent. The state
// passed is the node's last recorded activity.
func (t *Tracker) SetOnSilent(fn func(state NodeState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSilent = fn
}

// Register starts tracking node, resetting any earlier state. The gateway
// calls it when a node joins.
func (t *Tracker) Register(node uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFn()
	t.nodes[node] = &NodeState{Node: node, FirstSeen: now, LastSeen: now}
}

// Touch records a message from node. A node that is not tracked, because
// it joined before a restart or went silent, is tracked again.
func (t *Tracker) Touch(node uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFn()
	s, ok := t.nodes[node]
	if !ok {
		s = &NodeState{Node: node, FirstSeen: now}
		t.nodes[node] = s
	}
	s.LastSeen = now
	s.Messages++
}

// Remove stops tracking node without calling the silence callback.
func (t *Tracker) Remove(node uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, node)
}

// Lookup returns the activity recorded for node.
func (t *Tracker) Lookup(node uint8) (NodeState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.nodes[node]
	if !ok {
		return NodeState{}, false
	}
	return *s, true
}

// ActiveCount returns the number of tracked nodes.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// CheckTimeouts removes nodes whose inactivity exceeds Timeout and fires
// the silence callback for each.
func (t *Tracker) CheckTimeouts() {
	t.mu.Lock()
	now := t.nowFn()
	timeout := t.Timeout()

	var silent []NodeState
	for node, s := range t.nodes {
		if now.Sub(s.LastSeen) > timeout {
			silent = append(silent, *s)
			delete(t.nodes, node)
		}
	}
	onSilent := t.onSilent
	t.mu.Unlock()

	for _, s := range silent {
		t.log.Debug("node silent", "node", s.Node, "last_seen", s.LastSeen)
		if onSilent != nil {
			onSilent(s)
		}
	}
}

// Start runs the periodic timeout check loop. Blocks until the context
// is cancelled or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.CheckTimeouts()
		}
	}
}

// Stop stops the timeout check loop. A Start that begins after Stop
// returns immediately; a stopped Tracker cannot be restarted.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}
