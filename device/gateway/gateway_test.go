package gateway

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/sensornet-go/core/clock"
	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/device/activity"
	"github.com/kabili207/sensornet-go/transport"
)

const testEpoch = 1700000000

// mockTransport implements transport.Transport for testing.
type mockTransport struct {
	mu        sync.Mutex
	connected bool
	sendErr   error
	sent      [][]byte
	handler   transport.MessageHandler
}

func newMockTransport() *mockTransport {
	return &mockTransport{connected: true}
}

func (m *mockTransport) Start(_ context.Context) error { return nil }
func (m *mockTransport) Stop() error                   { return nil }

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) SetMessageHandler(fn transport.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

func (m *mockTransport) SetStateHandler(_ transport.StateHandler) {}

func (m *mockTransport) SendMessage(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockTransport) lastSent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// deliver simulates the transport receiving data.
func (m *mockTransport) deliver(data []byte, src transport.Source) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(data, src)
}

func fixedClock() *clock.Clock {
	return clock.NewWithSource(func() time.Time { return time.Unix(testEpoch, 0) })
}

func newTestGateway(cfg Config) (*Gateway, *mockTransport) {
	if cfg.Clock == nil {
		cfg.Clock = fixedClock()
	}
	g := New(cfg)
	mt := newMockTransport()
	g.AddTransport(mt, transport.SourceSerial)
	return g, mt
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{})
	if g.cfg.Clock == nil {
		t.Error("expected default clock")
	}
	if g.cfg.Assigner == nil {
		t.Error("expected default assigner")
	}
	if g.Clock() != g.cfg.Clock {
		t.Error("Clock() should return the configured clock")
	}
}

func TestJoinRequest_AssignsNode(t *testing.T) {
	g, mt := newTestGateway(Config{})

	const eui = 0x0102030405060708
	mt.deliver(codec.BuildJoinRequest(eui), transport.SourceSerial)

	if mt.sentCount() != 1 {
		t.Fatalf("expected 1 reply, got %d", mt.sentCount())
	}
	resp, err := codec.ParseJoinResponse(mt.lastSent())
	if err != nil {
		t.Fatalf("reply is not a join response: %v", err)
	}
	want := codec.JoinResponse{Node: 1, LeafNode: 0x08, Time: testEpoch}
	if *resp != want {
		t.Errorf("reply = %+v, want %+v", *resp, want)
	}

	snap := g.Counters().Snapshot()
	if snap.JoinsAccepted != 1 || snap.MessagesSent != 1 || snap.MessagesRecv != 1 {
		t.Errorf("unexpected counters %+v", snap)
	}
}

func TestJoinRequest_RepeatGetsSameNode(t *testing.T) {
	_, mt := newTestGateway(Config{})

	mt.deliver(codec.BuildJoinRequest(0xAA), transport.SourceSerial)
	mt.deliver(codec.BuildJoinRequest(0xBB), transport.SourceSerial)
	mt.deliver(codec.BuildJoinRequest(0xAA), transport.SourceSerial)

	if mt.sentCount() != 3 {
		t.Fatalf("expected every join to be answered, got %d replies", mt.sentCount())
	}
	resp, err := codec.ParseJoinResponse(mt.lastSent())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Node != 1 {
		t.Errorf("rejoin got node %d, want 1", resp.Node)
	}
}

type refusingAssigner struct{}

func (refusingAssigner) Assign(uint64) (uint8, error) { return 0, ErrNoFreeNodes }

func TestJoinRequest_Rejected(t *testing.T) {
	g, mt := newTestGateway(Config{Assigner: refusingAssigner{}})

	mt.deliver(codec.BuildJoinRequest(1), transport.SourceSerial)

	if mt.sentCount() != 0 {
		t.Errorf("expected no reply, got %d", mt.sentCount())
	}
	if got := g.Counters().Snapshot().JoinsRejected; got != 1 {
		t.Errorf("JoinsRejected = %d, want 1", got)
	}
}

func TestTimeRequest(t *testing.T) {
	g, mt := newTestGateway(Config{})

	for range 2 {
		mt.deliver(codec.BuildTimeRequest(7), transport.SourceSerial)
	}

	if mt.sentCount() != 2 {
		t.Fatalf("expected both requests answered, got %d", mt.sentCount())
	}
	want := codec.BuildTimeResponse(7, testEpoch)
	if !bytes.Equal(mt.lastSent(), want) {
		t.Errorf("reply = % x, want % x", mt.lastSent(), want)
	}
	if got := g.Counters().Snapshot().TimeRequests; got != 2 {
		t.Errorf("TimeRequests = %d, want 2", got)
	}
}

func TestReplyGoesToOriginTransport(t *testing.T) {
	g := New(Config{Clock: fixedClock()})
	serial := newMockTransport()
	mqtt := newMockTransport()
	g.AddTransport(serial, transport.SourceSerial)
	g.AddTransport(mqtt, transport.SourceMQTT)

	mqtt.deliver(codec.BuildTimeRequest(3), transport.SourceMQTT)

	if serial.sentCount() != 0 {
		t.Errorf("serial got %d messages, want 0", serial.sentCount())
	}
	if mqtt.sentCount() != 1 {
		t.Errorf("mqtt got %d messages, want 1", mqtt.sentCount())
	}
}

func TestTelemetryDispatch(t *testing.T) {
	g, mt := newTestGateway(Config{})

	var got []*codec.DataMessage
	g.SetTelemetryHandler(func(m *codec.DataMessage, src transport.Source) {
		if src != transport.SourceSerial {
			t.Errorf("source = %v, want serial", src)
		}
		got = append(got, m)
	})

	data := codec.BuildDataMessage(5, 42, testEpoch, 380, 120, 2150, 5500, 1)
	mt.deliver(data, transport.SourceSerial)

	if len(got) != 1 {
		t.Fatalf("handler called %d times, want 1", len(got))
	}
	if got[0].Node != 5 || got[0].Message != 42 || got[0].Temp != 2150 {
		t.Errorf("unexpected message %+v", got[0])
	}
	if mt.sentCount() != 0 {
		t.Error("data messages must not be answered")
	}
}

func TestTelemetryDuplicateDropped(t *testing.T) {
	g, mt := newTestGateway(Config{})

	calls := 0
	g.SetTelemetryHandler(func(*codec.DataMessage, transport.Source) { calls++ })

	mt.deliver(codec.BuildDataMessage(5, 42, testEpoch, 380, 120, 2150, 5500, 1), transport.SourceSerial)
	// Retransmission with a re-sampled battery reading.
	mt.deliver(codec.BuildDataMessage(5, 42, testEpoch, 379, 120, 2150, 5500, 1), transport.SourceSerial)
	mt.deliver(codec.BuildDataMessage(5, 43, testEpoch, 379, 120, 2150, 5500, 1), transport.SourceSerial)

	if calls != 2 {
		t.Errorf("handler called %d times, want 2", calls)
	}
	if got := g.Counters().Snapshot().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestTextDispatch(t *testing.T) {
	g, mt := newTestGateway(Config{})

	var got string
	g.SetTextHandler(func(m *codec.TextMessage, _ transport.Source) {
		got = string(m.Text)
	})

	mt.deliver(codec.BuildTextMessage(9, []byte("door open")), transport.SourceSerial)

	if got != "door open" {
		t.Errorf("text = %q, want %q", got, "door open")
	}
	if n := g.Counters().Snapshot().TextMessages; n != 1 {
		t.Errorf("TextMessages = %d, want 1", n)
	}
}

func TestDropsMalformedAndResponses(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		malformed bool
	}{
		{"empty", nil, true},
		{"unknown tag", []byte{0x7F, 1, 2}, true},
		{"legacy tag", []byte{byte(codec.TypeDataPacket), 1}, true},
		{"truncated join", codec.BuildJoinRequest(1)[:5], true},
		{"padded time request", append(codec.BuildTimeRequest(1), 0), true},
		{"join response", codec.BuildJoinResponse(1, 2, 3), false},
		{"time response", codec.BuildTimeResponse(1, 2), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mt := newTestGateway(Config{})
			calls := 0
			g.SetTelemetryHandler(func(*codec.DataMessage, transport.Source) { calls++ })
			g.SetTextHandler(func(*codec.TextMessage, transport.Source) { calls++ })

			mt.deliver(tt.data, transport.SourceSerial)

			if mt.sentCount() != 0 || calls != 0 {
				t.Errorf("message should be dropped: sent=%d calls=%d", mt.sentCount(), calls)
			}
			malformed := g.Counters().Snapshot().Malformed == 1
			if malformed != tt.malformed {
				t.Errorf("malformed = %v, want %v", malformed, tt.malformed)
			}
		})
	}
}

func TestLegacyLayoutRejected(t *testing.T) {
	full := codec.BuildDataMessage(5, 42, testEpoch, 380, 120, -150, 5500, 1)
	g, mt := newTestGateway(Config{})
	calls := 0
	g.SetTelemetryHandler(func(*codec.DataMessage, transport.Source) { calls++ })

	// The untagged layout is never guessed from its length.
	mt.deliver(full[1:], transport.SourceSerial)
	if calls != 0 {
		t.Error("untagged legacy packet was accepted")
	}
	if got := g.Counters().Snapshot().Malformed; got != 1 {
		t.Errorf("Malformed = %d, want 1", got)
	}
}

func TestSendSkipsDisconnectedAndCountsErrors(t *testing.T) {
	g := New(Config{Clock: fixedClock()})
	down := newMockTransport()
	down.connected = false
	failing := newMockTransport()
	failing.sendErr = errors.New("boom")
	ok := newMockTransport()
	g.AddTransport(down, transport.SourceSerial)
	g.AddTransport(failing, transport.SourceMQTT)
	g.AddTransport(ok, transport.SourceNATS)

	g.Broadcast(codec.BuildTimeResponse(0, testEpoch))

	if down.sentCount() != 0 {
		t.Error("disconnected transport should be skipped")
	}
	if ok.sentCount() != 1 {
		t.Errorf("connected transport got %d messages, want 1", ok.sentCount())
	}
	snap := g.Counters().Snapshot()
	if snap.SendErrors != 1 || snap.MessagesSent != 1 {
		t.Errorf("unexpected counters %+v", snap)
	}
}

func TestSend_SingleDestination(t *testing.T) {
	g := New(Config{Clock: fixedClock()})
	serial := newMockTransport()
	nats := newMockTransport()
	g.AddTransport(serial, transport.SourceSerial)
	g.AddTransport(nats, transport.SourceNATS)

	g.Send(codec.BuildTextMessage(0, []byte("hi")), transport.SourceNATS)

	if serial.sentCount() != 0 || nats.sentCount() != 1 {
		t.Errorf("serial=%d nats=%d, want 0 and 1", serial.sentCount(), nats.sentCount())
	}
}

func TestStart_ResponseDelay(t *testing.T) {
	g, mt := newTestGateway(Config{
		ResponseDelay: 50 * time.Millisecond,
		DrainInterval: time.Millisecond,
	})
	g.Start(context.Background())
	defer g.Stop()

	mt.deliver(codec.BuildTimeRequest(2), transport.SourceSerial)

	if mt.sentCount() != 0 {
		t.Fatal("reply sent before the response delay")
	}

	deadline := time.Now().Add(2 * time.Second)
	for mt.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mt.sentCount() != 1 {
		t.Fatalf("expected 1 reply after delay, got %d", mt.sentCount())
	}
}

func TestStop_Idempotent(t *testing.T) {
	g := New(Config{})
	g.Stop()
	g.Start(context.Background())
	g.Stop()
	g.Stop()
}

func TestActivityTracking(t *testing.T) {
	tracker := activity.New(activity.Config{})
	_, mt := newTestGateway(Config{Activity: tracker})

	mt.deliver(codec.BuildJoinRequest(0x10), transport.SourceSerial)
	if _, ok := tracker.Lookup(1); !ok {
		t.Fatal("joined node not tracked")
	}

	mt.deliver(codec.BuildDataMessage(1, 1, testEpoch, 0, 0, 0, 0, 0), transport.SourceSerial)
	mt.deliver(codec.BuildTimeRequest(1), transport.SourceSerial)
	mt.deliver(codec.BuildTextMessage(2, []byte("x")), transport.SourceSerial)

	if s, _ := tracker.Lookup(1); s.Messages != 2 {
		t.Errorf("node 1 messages = %d, want 2", s.Messages)
	}
	if _, ok := tracker.Lookup(2); !ok {
		t.Error("node heard from without a join should be tracked")
	}
}

func TestRejoinResetsSequenceTracking(t *testing.T) {
	g, mt := newTestGateway(Config{})

	var got []uint32
	g.SetTelemetryHandler(func(m *codec.DataMessage, _ transport.Source) { got = append(got, m.Message) })

	const eui = 0xAABB
	for boot := range 2 {
		mt.deliver(codec.BuildJoinRequest(eui), transport.SourceSerial)
		resp, err := codec.ParseJoinResponse(mt.lastSent())
		if err != nil {
			t.Fatalf("boot %d: reply is not a join response: %v", boot, err)
		}
		if resp.Node != 1 {
			t.Fatalf("boot %d: node = %d, want 1", boot, resp.Node)
		}
		for seq := uint32(1); seq <= 3; seq++ {
			temp := int16(2000 + 100*boot + int(seq))
			mt.deliver(codec.BuildDataMessage(resp.Node, seq, testEpoch+uint32(boot), 380, 120, temp, 5500, 0), transport.SourceSerial)
		}
	}

	want := []uint32{1, 2, 3, 1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("delivered message numbers %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered message numbers %v, want %v", got, want)
		}
	}
	if d := g.Counters().Snapshot().Duplicates; d != 0 {
		t.Errorf("Duplicates = %d, want 0", d)
	}
}

func TestStartStopWhileReceiving(t *testing.T) {
	g, mt := newTestGateway(Config{DrainInterval: time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			mt.deliver(codec.BuildTimeRequest(uint8(i%254)+1), transport.SourceSerial)
		}
	}()

	for range 5 {
		g.Start(context.Background())
		g.Stop()
	}
	g.Start(context.Background())
	wg.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for g.Counters().Snapshot().MessagesSent < 200 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	g.Stop()

	snap := g.Counters().Snapshot()
	if snap.TimeRequests != 200 {
		t.Errorf("TimeRequests = %d, want 200", snap.TimeRequests)
	}
	if mt.sentCount() == 0 {
		t.Error("expected replies to be sent")
	}
}
