// Package gateway answers leaf nodes and collects their telemetry.
//
// The Gateway sits between transports (serial radio bridge, MQTT, NATS) and
// application logic. For every received message it:
//   - Drops duplicates of data and text messages via circular hash tables
//   - Decodes the message by its tag
//   - Assigns node numbers to joining leaves and replies with the clock
//   - Answers time requests
//   - Hands telemetry and text to the application callbacks
//
// Replies go back out on the transport the request arrived on, through a
// send queue that holds them for the radio's turnaround delay.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/sensornet-go/core/clock"
	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/core/dedupe"
	"github.com/kabili207/sensornet-go/device/activity"
	"github.com/kabili207/sensornet-go/transport"
)

const (
	// DefaultDrainInterval is the default interval for the send queue drain loop.
	DefaultDrainInterval = 10 * time.Millisecond

	// Send priorities. Lower is sent first.
	PriorityJoin = 0
	PriorityTime = 1
	PriorityApp  = 2
)

// TelemetryHandler is called for every new data message.
type TelemetryHandler func(msg *codec.DataMessage, src transport.Source)

// TextHandler is called for every new text message.
type TextHandler func(msg *codec.TextMessage, src transport.Source)

// Config configures a Gateway.
type Config struct {
	// Clock supplies the time sent in join and time responses.
	// Default: a clock following the system time.
	Clock *clock.Clock

	// Assigner hands out node numbers. Default: a new MemoryAssigner.
	Assigner Assigner

	// ResponseDelay holds replies before sending so a half-duplex leaf
	// radio has time to switch back to receive. Only used when Start()
	// is called.
	ResponseDelay time.Duration

	// DrainInterval is how often the queue drain goroutine checks for ready
	// messages. Default: 10ms. Only used when Start() is called.
	DrainInterval time.Duration

	// Activity, if set, is told about every join and every message a
	// joined node sends.
	Activity *activity.Tracker

	// Logger for gateway events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Gateway handles the gateway side of the sensor network protocol.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	dedup    *dedupe.Deduplicator
	queue    *SendQueue
	counters Counters

	mu          sync.RWMutex
	transports  []transportEntry
	onTelemetry TelemetryHandler
	onText      TextHandler

	runMu     sync.Mutex
	cancel    context.CancelFunc
	drainDone chan struct{}
	started   atomic.Bool
}

type transportEntry struct {
	transport transport.Transport
	source    transport.Source
}

// New creates a Gateway with the given configuration.
func New(cfg Config) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Assigner == nil {
		cfg.Assigner = NewMemoryAssigner()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		cfg:   cfg,
		log:   logger.WithGroup("gateway"),
		dedup: dedupe.New(),
		queue: NewSendQueue(),
	}
}

// Start begins the queue drain goroutine. If Start is never called, replies
// are sent synchronously from HandleMessage. Start and Stop may be called
// while transports are delivering messages.
func (g *Gateway) Start(ctx context.Context) {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.cancel != nil {
		return
	}

	interval := g.cfg.DrainInterval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.drainDone = make(chan struct{})
	go g.drainLoop(ctx, interval, g.drainDone)
	g.started.Store(true)
}

// Stop cancels the drain goroutine and waits for it to finish. Messages
// still in the queue are discarded; later replies are sent synchronously.
func (g *Gateway) Stop() {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.cancel == nil {
		return
	}

	g.started.Store(false)
	g.cancel()
	<-g.drainDone
	g.cancel = nil
	g.drainDone = nil
}

func (g *Gateway) drainLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				entry, ok := g.queue.Pop()
				if !ok {
					break
				}
				g.deliver(entry)
			}
		}
	}
}

// Counters returns the gateway's traffic counters.
func (g *Gateway) Counters() *Counters {
	return &g.counters
}

// Clock returns the clock used for responses.
func (g *Gateway) Clock() *clock.Clock {
	return g.cfg.Clock
}

// SetTelemetryHandler sets the callback for data messages.
func (g *Gateway) SetTelemetryHandler(fn TelemetryHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTelemetry = fn
}

// SetTextHandler sets the callback for text messages.
func (g *Gateway) SetTextHandler(fn TextHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onText = fn
}

// AddTransport registers a transport with the gateway. The gateway installs
// itself as the transport's message handler so that incoming messages are
// routed through HandleMessage.
func (g *Gateway) AddTransport(t transport.Transport, source transport.Source) {
	g.mu.Lock()
	g.transports = append(g.transports, transportEntry{transport: t, source: source})
	g.mu.Unlock()

	t.SetMessageHandler(func(data []byte, src transport.Source) {
		g.HandleMessage(data, src)
	})
}

// HandleMessage processes one raw message received from src.
func (g *Gateway) HandleMessage(data []byte, src transport.Source) {
	g.counters.MessagesRecv.Add(1)

	msg, err := codec.Decode(data)
	if err != nil {
		g.counters.Malformed.Add(1)
		g.log.Debug("dropping message", "source", src, "len", len(data), "error", err)
		return
	}

	// Requests are answered every time; a leaf that lost the reply sends
	// the same bytes again.
	switch msg.Type() {
	case codec.TypeDataMessage, codec.TypeText:
		if g.dedup.HasSeen(data) {
			g.counters.Duplicates.Add(1)
			g.log.Debug("dropping duplicate", "source", src, "message", msg)
			return
		}
	}

	g.log.Debug("received message", "source", src, "message", msg)

	switch m := msg.(type) {
	case *codec.JoinRequest:
		g.handleJoin(m, src)
	case *codec.TimeRequest:
		g.touch(m.Node)
		g.handleTimeRequest(m, src)
	case *codec.DataMessage:
		g.counters.DataMessages.Add(1)
		g.touch(m.Node)
		g.dispatchTelemetry(m, src)
	case *codec.TextMessage:
		g.counters.TextMessages.Add(1)
		g.touch(m.Node)
		g.dispatchText(m, src)
	default:
		// Responses only flow gateway to leaf.
		g.log.Debug("ignoring message not addressed to a gateway", "source", src, "type", msg.Type())
	}
}

func (g *Gateway) handleJoin(req *codec.JoinRequest, src transport.Source) {
	node, err := g.cfg.Assigner.Assign(req.DevEUI)
	if err != nil {
		g.counters.JoinsRejected.Add(1)
		g.log.Warn("join rejected", "dev_eui", fmt.Sprintf("%016x", req.DevEUI), "error", err)
		return
	}
	g.counters.JoinsAccepted.Add(1)
	// The leaf restarts its message numbers with every join.
	g.dedup.ForgetNode(node)
	if g.cfg.Activity != nil {
		g.cfg.Activity.Register(node)
	}

	resp := codec.BuildJoinResponse(node, codec.LeafNodeFromEUI(req.DevEUI), g.cfg.Clock.Now())
	g.log.Info("node joined", "dev_eui", fmt.Sprintf("%016x", req.DevEUI), "node", node, "source", src)
	g.enqueue(QueueEntry{Data: resp, Dest: src}, PriorityJoin, g.cfg.ResponseDelay)
}

func (g *Gateway) handleTimeRequest(req *codec.TimeRequest, src transport.Source) {
	g.counters.TimeRequests.Add(1)
	resp := codec.BuildTimeResponse(req.Node, g.cfg.Clock.Now())
	g.enqueue(QueueEntry{Data: resp, Dest: src}, PriorityTime, g.cfg.ResponseDelay)
}

func (g *Gateway) touch(node uint8) {
	if g.cfg.Activity != nil {
		g.cfg.Activity.Touch(node)
	}
}

func (g *Gateway) dispatchTelemetry(m *codec.DataMessage, src transport.Source) {
	g.mu.RLock()
	handler := g.onTelemetry
	g.mu.RUnlock()

	if handler != nil {
		handler(m, src)
	}
}

func (g *Gateway) dispatchText(m *codec.TextMessage, src transport.Source) {
	g.mu.RLock()
	handler := g.onText
	g.mu.RUnlock()

	if handler != nil {
		handler(m, src)
	}
}

// Send queues an application message for the transports of dest.
func (g *Gateway) Send(data []byte, dest transport.Source) {
	g.enqueue(QueueEntry{Data: data, Dest: dest}, PriorityApp, 0)
}

// Broadcast queues an application message for every transport.
func (g *Gateway) Broadcast(data []byte) {
	g.enqueue(QueueEntry{Data: data, SendToAll: true}, PriorityApp, 0)
}

// enqueue adds a message to the send queue if the drain goroutine is
// running, otherwise sends synchronously.
func (g *Gateway) enqueue(entry QueueEntry, priority uint8, delay time.Duration) {
	if !g.started.Load() {
		g.deliver(entry)
		return
	}
	g.queue.Push(entry, priority, delay)
}

func (g *Gateway) deliver(entry QueueEntry) {
	g.mu.RLock()
	entries := make([]transportEntry, len(g.transports))
	copy(entries, g.transports)
	g.mu.RUnlock()

	for _, te := range entries {
		if !entry.SendToAll && te.source != entry.Dest {
			continue
		}
		if !te.transport.IsConnected() {
			continue
		}
		if err := te.transport.SendMessage(entry.Data); err != nil {
			g.counters.SendErrors.Add(1)
			g.log.Warn("send failed", "dest", te.source, "error", err)
			continue
		}
		g.counters.MessagesSent.Add(1)
	}
}
