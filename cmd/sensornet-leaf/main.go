// Command sensornet-leaf simulates a leaf sensor node. It joins a gateway
// over MQTT or NATS, keeps its clock in sync and reports synthetic
// telemetry on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kabili207/sensornet-go/device/leaf"
	"github.com/kabili207/sensornet-go/transport"
	mqtttransport "github.com/kabili207/sensornet-go/transport/mqtt"
	natstransport "github.com/kabili207/sensornet-go/transport/nats"
)

type options struct {
	devEUI         uint64
	network        string
	mqttBroker     string
	natsURL        string
	reportInterval time.Duration
	joinInterval   time.Duration
	syncInterval   time.Duration
	logLevel       slog.Level
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var (
		opts  options
		eui   string
		level string
	)
	fs.StringVar(&eui, "eui", "", "device EUI in hex (required)")
	fs.StringVar(&opts.network, "network", "default", "network ID")
	fs.StringVar(&opts.mqttBroker, "mqtt", "", "MQTT broker URL")
	fs.StringVar(&opts.natsURL, "nats", "", "NATS server URL")
	fs.DurationVar(&opts.reportInterval, "report", leaf.DefaultReportInterval, "telemetry interval")
	fs.DurationVar(&opts.joinInterval, "join", leaf.DefaultJoinInterval, "join retry interval")
	fs.DurationVar(&opts.syncInterval, "sync", leaf.DefaultSyncInterval, "time sync interval")
	fs.StringVar(&level, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if eui == "" {
		return options{}, errors.New("-eui is required")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(eui), "0x"), 16, 64)
	if err != nil {
		return options{}, fmt.Errorf("invalid -eui %q: %w", eui, err)
	}
	opts.devEUI = v

	if (opts.mqttBroker == "") == (opts.natsURL == "") {
		return options{}, errors.New("exactly one of -mqtt or -nats is required")
	}
	if err := opts.logLevel.UnmarshalText([]byte(level)); err != nil {
		return options{}, fmt.Errorf("invalid -log-level: %w", err)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("leaf failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	var t transport.Transport
	if opts.mqttBroker != "" {
		t = mqtttransport.New(mqtttransport.Config{
			Broker:    opts.mqttBroker,
			NetworkID: opts.network,
			Role:      mqtttransport.RoleLeaf,
			Logger:    logger,
		})
	} else {
		t = natstransport.New(natstransport.Config{
			URL:       opts.natsURL,
			Name:      fmt.Sprintf("sensornet-leaf-%016x", opts.devEUI),
			NetworkID: opts.network,
			Logger:    logger,
		})
	}

	node := leaf.New(leaf.Config{DevEUI: opts.devEUI, Logger: logger})
	t.SetMessageHandler(func(data []byte, _ transport.Source) {
		if err := node.HandleMessage(data); err != nil {
			logger.Debug("ignoring message", "error", err)
		}
	})

	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	defer t.Stop()

	sensor := newSimSensor(opts.devEUI)
	reporter := leaf.NewReporter(node, t.SendMessage, sensor.Read, leaf.ReporterConfig{
		JoinInterval:   opts.joinInterval,
		ReportInterval: opts.reportInterval,
		SyncInterval:   opts.syncInterval,
		Logger:         logger,
	})

	logger.Info("leaf running", "dev_eui", fmt.Sprintf("%016x", opts.devEUI), "network", opts.network)
	reporter.Start(ctx)
	return nil
}
