// Command sensornet-gateway runs a sensor network gateway. It answers join
// and time requests from leaf nodes on every enabled transport, logs their
// telemetry and optionally forwards it as JSON over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kabili207/sensornet-go/core/codec"
	"github.com/kabili207/sensornet-go/device/activity"
	"github.com/kabili207/sensornet-go/device/gateway"
	"github.com/kabili207/sensornet-go/transport"
	mqtttransport "github.com/kabili207/sensornet-go/transport/mqtt"
	natstransport "github.com/kabili207/sensornet-go/transport/nats"
	serialtransport "github.com/kabili207/sensornet-go/transport/serial"
)

func main() {
	configPath := flag.String("config", "sensornet.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

type namedTransport struct {
	name string
	t    transport.Transport
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	tracker := activity.New(activity.Config{
		ReportInterval: cfg.ReportInterval,
		Logger:         logger,
	})
	tracker.SetOnSilent(func(s activity.NodeState) {
		logger.Warn("node silent", "node", s.Node, "last_seen", s.LastSeen, "messages", s.Messages)
	})

	gw := gateway.New(gateway.Config{
		Assigner:      gateway.NewMemoryAssigner(),
		Activity:      tracker,
		ResponseDelay: cfg.ResponseDelay,
		Logger:        logger,
	})

	var (
		transports []namedTransport
		bus        *natstransport.Transport
	)

	if cfg.Serial.Enabled {
		t := serialtransport.New(serialtransport.Config{
			Port:     cfg.Serial.Port,
			BaudRate: cfg.Serial.BaudRate,
			Logger:   logger,
		})
		gw.AddTransport(t, transport.SourceSerial)
		transports = append(transports, namedTransport{"serial", t})
	}
	if cfg.MQTT.Enabled {
		t := mqtttransport.New(mqtttransport.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			UseTLS:      cfg.MQTT.UseTLS,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			NetworkID:   cfg.NetworkID,
			Role:        mqtttransport.RoleGateway,
			Logger:      logger,
		})
		gw.AddTransport(t, transport.SourceMQTT)
		transports = append(transports, namedTransport{"mqtt", t})
	}
	if cfg.NATS.Enabled {
		bus = natstransport.New(natstransport.Config{
			URL:           cfg.NATS.URL,
			Name:          "sensornet-gateway-" + cfg.NetworkID,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			NetworkID:     cfg.NetworkID,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
			Logger:        logger,
		})
		gw.AddTransport(bus, transport.SourceNATS)
		transports = append(transports, namedTransport{"nats", bus})
	}

	var forward publisher
	if bus != nil && cfg.NATS.ForwardTelemetry {
		forward = bus
	}
	gw.SetTelemetryHandler(func(m *codec.DataMessage, src transport.Source) {
		logger.Info("telemetry", "source", src, "message", m.Render(true))
		if forward != nil {
			if err := forward.PublishJSON(forward.TelemetrySubject(m.Node), newTelemetryRecord(m, src)); err != nil {
				logger.Warn("forwarding telemetry failed", "node", m.Node, "error", err)
			}
		}
	})
	gw.SetTextHandler(func(m *codec.TextMessage, src transport.Source) {
		logger.Info("text", "source", src, "message", m.Render(true))
		if forward != nil {
			if err := forward.PublishJSON(forward.TextSubject(m.Node), newTextRecord(m, src)); err != nil {
				logger.Warn("forwarding text failed", "node", m.Node, "error", err)
			}
		}
	})

	// The gateway and tracker outlive the transports on both ends so no
	// read goroutine delivers into a stopped gateway.
	gw.Start(ctx)
	defer gw.Stop()

	go tracker.Start(ctx)
	defer tracker.Stop()

	for _, nt := range transports {
		nt.t.SetStateHandler(func(_ transport.Transport, event transport.Event) {
			logger.Info("transport state changed", "transport", nt.name, "event", event)
		})
		if err := nt.t.Start(ctx); err != nil {
			return fmt.Errorf("starting %s transport: %w", nt.name, err)
		}
		defer nt.t.Stop()
	}

	logger.Info("gateway running", "network", cfg.NetworkID, "transports", len(transports))
	<-ctx.Done()

	snap := gw.Counters().Snapshot()
	logger.Info("gateway stopping",
		"received", snap.MessagesRecv,
		"sent", snap.MessagesSent,
		"duplicates", snap.Duplicates,
		"malformed", snap.Malformed,
		"joins", snap.JoinsAccepted,
		"data", snap.DataMessages,
		"active_nodes", tracker.ActiveCount(),
	)
	return nil
}
