package main

import (
	"time"

	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/transport"
)

// publisher forwards decoded records to a message bus.
type publisher interface {
	PublishJSON(subject string, v any) error
	TelemetrySubject(node uint8) string
	TextSubject(node uint8) string
}

// telemetryRecord is the JSON form of a data message.
type telemetryRecord struct {
	Node           uint8     `json:"node"`
	Message        uint32    `json:"message"`
	Time           time.Time `json:"time"`
	BatteryVolts   float64   `json:"battery_v"`
	LastTxDuration uint16    `json:"last_tx_ms"`
	TempCelsius    float64   `json:"temp_c"`
	Humidity       float64   `json:"humidity_pct"`
	Status         uint8     `json:"status"`
	Source         string    `json:"source"`
}

func newTelemetryRecord(m *codec.DataMessage, src transport.Source) telemetryRecord {
	return telemetryRecord{
		Node:           m.Node,
		Message:        m.Message,
		Time:           time.Unix(int64(m.Time), 0).UTC(),
		BatteryVolts:   m.BatteryVolts(),
		LastTxDuration: m.LastTxDuration,
		TempCelsius:    m.TempCelsius(),
		Humidity:       m.HumidityPercent(),
		Status:         m.Status,
		Source:         src.String(),
	}
}

type textRecord struct {
	Node   uint8  `json:"node"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

func newTextRecord(m *codec.TextMessage, src transport.Source) textRecord {
	return textRecord{
		Node:   m.Node,
		Text:   string(m.Text[:m.Length()]),
		Source: src.String(),
	}
}
