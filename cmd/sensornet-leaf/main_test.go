package main

import (
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("sensornet-leaf", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(newFlagSet(), []string{
		"-eui", "0xDEADBEEF00000042",
		"-nats", "nats://localhost:4222",
		"-network", "greenhouse",
		"-report", "30s",
		"-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.devEUI != 0xDEADBEEF00000042 {
		t.Errorf("devEUI = %x", opts.devEUI)
	}
	if opts.network != "greenhouse" || opts.natsURL == "" || opts.mqttBroker != "" {
		t.Errorf("unexpected options %+v", opts)
	}
	if opts.reportInterval != 30*time.Second {
		t.Errorf("reportInterval = %v", opts.reportInterval)
	}
	if opts.logLevel != slog.LevelDebug {
		t.Errorf("logLevel = %v", opts.logLevel)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing eui", []string{"-mqtt", "tcp://x:1883"}},
		{"bad eui", []string{"-eui", "zz", "-mqtt", "tcp://x:1883"}},
		{"no transport", []string{"-eui", "01"}},
		{"both transports", []string{"-eui", "01", "-mqtt", "tcp://x:1883", "-nats", "nats://x"}},
		{"bad level", []string{"-eui", "01", "-mqtt", "tcp://x:1883", "-log-level", "loud"}},
		{"unknown flag", []string{"-colour", "blue"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFlags(newFlagSet(), tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSimSensor(t *testing.T) {
	s := newSimSensor(42)
	prevBattery := uint16(0xFFFF)
	for range 1000 {
		r := s.Read()
		if r.Battery > prevBattery {
			t.Fatalf("battery rose from %d to %d", prevBattery, r.Battery)
		}
		prevBattery = r.Battery
		if r.Temp < -4000 || r.Temp > 8500 {
			t.Fatalf("temp %d out of range", r.Temp)
		}
		if r.Humidity > 10000 {
			t.Fatalf("humidity %d out of range", r.Humidity)
		}
		if (r.Battery < 330) != (r.Status&0x01 != 0) {
			t.Fatalf("low battery flag wrong: battery=%d status=%#x", r.Battery, r.Status)
		}
	}
}
