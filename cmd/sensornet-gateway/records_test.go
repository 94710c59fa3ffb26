package main

import (
	"encoding/json"
	"testing"

	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/transport"
)

func TestTelemetryRecordJSON(t *testing.T) {
	m := &codec.DataMessage{
		Node: 5, Message: 42, Time: 1700000000, Battery: 380,
		LastTxDuration: 120, Temp: -250, Humidity: 5500, Status: 1,
	}

	out, err := json.Marshal(newTelemetryRecord(m, transport.SourceSerial))
	if err != nil {
		t.Fatal(err)
	}

	want := `{"node":5,"message":42,"time":"2023-11-14T22:13:20Z","battery_v":3.8,` +
		`"last_tx_ms":120,"temp_c":-2.5,"humidity_pct":55,"status":1,"source":"serial"}`
	if string(out) != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestTextRecord(t *testing.T) {
	m := &codec.TextMessage{Node: 3, Text: []byte("door open")}
	rec := newTextRecord(m, transport.SourceMQTT)
	if rec.Node != 3 || rec.Text != "door open" || rec.Source != "mqtt" {
		t.Errorf("unexpected record %+v", rec)
	}
}
