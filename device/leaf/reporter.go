package leaf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultJoinInterval is how often an unjoined leaf repeats its join request.
	DefaultJoinInterval = 30 * time.Second
	// DefaultReportInterval is the interval between data messages.
	DefaultReportInterval = 5 * time.Minute
	// DefaultSyncInterval is the interval between time requests.
	DefaultSyncInterval = time.Hour

	// DefaultTickInterval is the resolution of the reporter's timer loop.
	DefaultTickInterval = time.Second
)

// SendFunc transmits one encoded message.
type SendFunc func(data []byte) error

// SampleFunc reads the sensors. LastTxDuration is filled in by the Reporter.
type SampleFunc func() Reading

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	JoinInterval   time.Duration
	ReportInterval time.Duration
	// SyncInterval is the interval between time requests. The clock is also
	// set by the join response, so the first request is one interval after
	// joining.
	SyncInterval time.Duration
	TickInterval time.Duration

	// Logger falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Reporter drives a leaf: it sends join requests until the leaf has joined,
// then periodic data messages and time requests.
type Reporter struct {
	cfg    ReporterConfig
	log    *slog.Logger
	node   *Node
	send   SendFunc
	sample SampleFunc

	mu         sync.Mutex
	joined     bool
	nextJoin   time.Time
	nextReport time.Time
	nextSync   time.Time
	lastTx     time.Duration
	stop       chan struct{}
	stopOnce   sync.Once

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewReporter creates a Reporter for n that transmits with send and reads
// sensors with sample.
func NewReporter(n *Node, send SendFunc, sample SampleFunc, cfg ReporterConfig) *Reporter {
	if cfg.JoinInterval <= 0 {
		cfg.JoinInterval = DefaultJoinInterval
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		cfg:    cfg,
		log:    logger.WithGroup("reporter"),
		node:   n,
		send:   send,
		sample: sample,
		stop:   make(chan struct{}),
		nowFn:  time.Now,
	}
}

// Start runs the reporter loop. It blocks until the context is cancelled or
// Stop is called. The first join request goes out on the first tick.
func (r *Reporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.checkTimers()
		}
	}
}

// Stop stops the reporter loop, including one whose Start has not run
// yet. A stopped Reporter cannot be restarted.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// ReportNow sends a data message immediately and restarts the report timer.
func (r *Reporter) ReportNow() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportLocked(r.nowFn())
}

// checkTimers sends whatever is due. An unjoined leaf only sends join
// requests.
func (r *Reporter) checkTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()

	if !r.node.Joined() {
		r.joined = false
		if now.Before(r.nextJoin) {
			return
		}
		r.nextJoin = now.Add(r.cfg.JoinInterval)
		if err := r.send(r.node.JoinRequest()); err != nil {
			r.log.Warn("sending join request failed", "error", err)
		}
		return
	}

	if !r.joined {
		r.joined = true
		r.nextReport = now
		r.nextSync = now.Add(r.cfg.SyncInterval)
	}

	if !now.Before(r.nextSync) {
		r.nextSync = now.Add(r.cfg.SyncInterval)
		if data, err := r.node.TimeRequest(); err == nil {
			if err := r.send(data); err != nil {
				r.log.Warn("sending time request failed", "error", err)
			}
		}
	}

	if !now.Before(r.nextReport) {
		if err := r.reportLocked(now); err != nil {
			r.log.Warn("sending data message failed", "error", err)
		}
	}
}

// reportLocked builds and sends a data message. Must be called with r.mu held.
func (r *Reporter) reportLocked(now time.Time) error {
	r.nextReport = now.Add(r.cfg.ReportInterval)

	reading := r.sample()
	reading.LastTxDuration = uint16(min(r.lastTx.Milliseconds(), 0xFFFF))

	data, err := r.node.DataMessage(reading)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.send(data)
	r.lastTx = time.Since(start)
	return err
}
