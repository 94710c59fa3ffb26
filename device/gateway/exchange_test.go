package gateway

import (
	"testing"
	"time"

	"github.com/kabili207/sensornet-go/core/clock"
	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/device/leaf"
	"github.com/kabili207/sensornet-go/transport"
)

// A leaf joins, sends telemetry twice (one retransmission), then resyncs
// its clock after the gateway's clock moved.
func TestLeafExchange(t *testing.T) {
	gwNow := time.Unix(testEpoch, 0)
	gwClock := clock.NewWithSource(func() time.Time { return gwNow })
	g, mt := newTestGateway(Config{Clock: gwClock})

	var telemetry []*codec.DataMessage
	g.SetTelemetryHandler(func(m *codec.DataMessage, _ transport.Source) {
		telemetry = append(telemetry, m)
	})

	leafNow := time.Unix(0, 0)
	l := leaf.New(leaf.Config{
		DevEUI: 0xDEADBEEF00000042,
		Clock:  clock.NewWithSource(func() time.Time { return leafNow }),
	})

	mt.deliver(l.JoinRequest(), transport.SourceSerial)
	if err := l.HandleMessage(mt.lastSent()); err != nil {
		t.Fatalf("leaf rejected join response: %v", err)
	}
	if l.Node() != 1 {
		t.Fatalf("leaf node = %d, want 1", l.Node())
	}

	data, err := l.DataMessage(leaf.Reading{Battery: 360, Temp: 1999, Humidity: 4000})
	if err != nil {
		t.Fatal(err)
	}
	mt.deliver(data, transport.SourceSerial)
	mt.deliver(data, transport.SourceSerial)

	if len(telemetry) != 1 {
		t.Fatalf("got %d telemetry messages, want 1", len(telemetry))
	}
	if telemetry[0].Time != testEpoch || telemetry[0].Node != 1 {
		t.Errorf("unexpected telemetry %+v", telemetry[0])
	}

	gwNow = gwNow.Add(time.Hour)
	req, err := l.TimeRequest()
	if err != nil {
		t.Fatal(err)
	}
	mt.deliver(req, transport.SourceSerial)
	if err := l.HandleMessage(mt.lastSent()); err != nil {
		t.Fatalf("leaf rejected time response: %v", err)
	}
	if got := l.Clock().Now(); got != testEpoch+3600 {
		t.Errorf("leaf clock = %d, want %d", got, testEpoch+3600)
	}
}
