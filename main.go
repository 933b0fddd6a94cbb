// BP35シリーズ相当のWi-SUNモジュールを使ってスマートメータから電力消費量などを得る
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"cloud.google.com/go/pubsub"

	"github.com/kuroha-net/hems-agent/internal/config"
	"github.com/kuroha-net/hems-agent/internal/control"
	"github.com/kuroha-net/hems-agent/internal/logging"
	"github.com/kuroha-net/hems-agent/internal/meter"
	"github.com/kuroha-net/hems-agent/internal/output"
	"github.com/kuroha-net/hems-agent/internal/schedule"
	"github.com/kuroha-net/hems-agent/internal/session"
	"github.com/kuroha-net/hems-agent/internal/transaction"
	"github.com/kuroha-net/hems-agent/internal/transport"
)

const outputQueueSize = 32

func main() {
	cfg := config.LoadEnv()
	var sinksCSV string

	app := &cli.App{
		Name:    "hems-agent",
		Usage:   "Wi-SUN B-routeでスマートメータから電力消費量などを収集する",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Usage: "シリアルデバイス名", Destination: &cfg.SerialPort, Value: cfg.SerialPort},
			&cli.IntFlag{Name: "baud", Usage: "シリアル通信速度", Destination: &cfg.SerialRate, Value: cfg.SerialRate},
			&cli.StringFlag{Name: "route-id", Usage: "ルートBID(32文字)", Destination: &cfg.RouteBID, Value: cfg.RouteBID},
			&cli.StringFlag{Name: "route-password", Usage: "ルートBパスワード", Destination: &cfg.RouteBPassword, Value: cfg.RouteBPassword},
			&cli.StringFlag{Name: "timezone", Usage: "メーター時刻のIANAタイムゾーン名", Destination: &cfg.LocalTimezone, Value: cfg.LocalTimezone},
			&cli.StringFlag{Name: "meter-channel", Usage: "既知のチャンネル(discoveryを省略)", Destination: &cfg.MeterChannel},
			&cli.StringFlag{Name: "meter-panid", Usage: "既知のPAN ID(discoveryを省略)", Destination: &cfg.MeterPanID},
			&cli.StringFlag{Name: "meter-ipv6", Usage: "既知のIPv6アドレス(discoveryを省略)", Destination: &cfg.MeterIPv6},
			&cli.StringFlag{Name: "mode", Usage: "interval または schedule", Destination: &cfg.Mode, Value: cfg.Mode},
			&cli.IntFlag{Name: "interval", Usage: "intervalモードの秒数", Destination: &cfg.IntervalSeconds, Value: cfg.IntervalSeconds},
			&cli.StringFlag{Name: "schedule", Usage: "scheduleモードのcron式(UTC)", Destination: &cfg.ScheduleCron},
			&cli.StringFlag{Name: "sinks", Usage: "カンマ区切りの出力先(stdout,file,gcloud,webhook)", Destination: &sinksCSV, Value: "stdout"},
			&cli.StringFlag{Name: "format", Usage: "json, yaml, csv", Destination: &cfg.Format, Value: cfg.Format},
			&cli.StringFlag{Name: "output-file", Usage: "fileシンクの出力先パス", Destination: &cfg.OutputFile},
			&cli.StringFlag{Name: "webhook-url", Usage: "webhookシンクの送信先URL", Destination: &cfg.WebhookURL, Value: cfg.WebhookURL},
			&cli.StringFlag{Name: "gcp-project", Usage: "gcloudシンクのプロジェクトID", Destination: &cfg.GCPProjectID, Value: cfg.GCPProjectID},
			&cli.StringFlag{Name: "gcp-topic", Usage: "gcloudシンクのトピック名", Destination: &cfg.GCPTopicName, Value: cfg.GCPTopicName},
			&cli.BoolFlag{Name: "debug", Usage: "デバッグログを有効化", Destination: &cfg.Debug},
		},
		Action: func(c *cli.Context) error {
			cfg.Sinks = splitCSV(sinksCSV)
			logging.Setup(os.Stdout, cfg.Debug)
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("app.Run", "err", err)
		os.Exit(1)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if field := s[start:i]; field != "" {
				out = append(out, field)
			}
			start = i + 1
		}
	}
	return out
}

// run wires the session, transaction layer, poller, dispatcher and
// scheduler together and blocks until a termination signal stops the
// scheduler. A session that fails to open ends run with an error before
// collection starts; losing the session after it has joined does not end
// the loop, and later ticks simply yield no measurements.
func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.LocalTimezone)
	if err != nil {
		return fmt.Errorf("main: loading timezone %q: %w", cfg.LocalTimezone, err)
	}

	sched, err := newScheduler(cfg)
	if err != nil {
		return err
	}

	ctrl := control.New()
	installSignalHandler(ctrl)

	sess, err := openSession(cfg, ctrl)
	if err != nil {
		return fmt.Errorf("main: session init failed: %w", err)
	}
	defer sess.Close()

	sinks, closeSinks, err := buildSinks(cfg)
	if err != nil {
		return fmt.Errorf("main: building sinks: %w", err)
	}
	defer closeSinks()

	dispatcher := output.NewDispatcher(outputQueueSize, sinks, ctrl)
	layer := transaction.New(sess)
	poller := meter.New(layer, loc)

	sched.Run(ctrl, func(now time.Time) {
		rec := poller.Tick(now)
		if !rec.Substantive() {
			slog.Warn("main: tick produced no substantive measurements, dropping record")
			return
		}
		dispatcher.Enqueue(rec)
	})

	dispatcher.Shutdown()
	slog.Info("main: shutdown complete")
	return nil
}

func newScheduler(cfg config.Config) (*schedule.Scheduler, error) {
	sc := schedule.Config{IntervalSeconds: cfg.IntervalSeconds, CronExpr: cfg.ScheduleCron}
	if cfg.Mode == "schedule" {
		sc.Mode = schedule.ModeSchedule
	} else {
		sc.Mode = schedule.ModeInterval
	}
	return schedule.New(sc)
}

func openSession(cfg config.Config, ctrl *control.Control) (*session.Session, error) {
	sessCfg := session.Config{
		Transport: transport.Config{
			PortName: cfg.SerialPort,
			BaudRate: cfg.SerialRate,
		},
		Credentials: session.Credentials{
			RouteBID:       cfg.RouteBID,
			RouteBPassword: cfg.RouteBPassword,
		},
	}
	if cfg.HasPreconfiguredEndpoint() {
		sessCfg.Endpoint = &session.Endpoint{
			Channel: cfg.MeterChannel,
			PanID:   cfg.MeterPanID,
			IPv6:    cfg.MeterIPv6,
		}
	}
	return session.Open(sessCfg, ctrl)
}

// buildSinks constructs every sink named in cfg.Sinks in configuration
// order. The returned closer releases any sink-owned resources (the
// Pub/Sub client and topic).
func buildSinks(cfg config.Config) ([]output.Sink, func(), error) {
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return nil, func() {}, err
	}

	var sinks []output.Sink
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkStdout:
			sinks = append(sinks, &output.StdoutSink{Writer: os.Stdout, Format: format})
		case config.SinkFile:
			sinks = append(sinks, &output.FileSink{Path: cfg.OutputFile, Format: format})
		case config.SinkWebhook:
			sinks = append(sinks, &output.WebhookSink{URL: cfg.WebhookURL})
		case config.SinkGCloud:
			sink, closer, err := buildGCloudSink(cfg)
			if err != nil {
				closeAll()
				return nil, func() {}, err
			}
			sinks = append(sinks, sink)
			closers = append(closers, closer)
		default:
			closeAll()
			return nil, func() {}, fmt.Errorf("main: unknown sink %q", name)
		}
	}
	return sinks, closeAll, nil
}

func buildGCloudSink(cfg config.Config) (output.Sink, func(), error) {
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, func() {}, fmt.Errorf("gcloud sink: new client: %w", err)
	}
	topic := client.Topic(cfg.GCPTopicName)
	closer := func() {
		topic.Stop()
		client.Close()
	}
	return &output.GCloudSink{Topic: topic}, closer, nil
}

// installSignalHandler requests cooperative shutdown on SIGINT/SIGTERM,
// stopping the poll loop's sleep, the session join-wait, and the output
// worker in that order per the cancellation model.
func installSignalHandler(ctrl *control.Control) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigc
		slog.Info("main: shutdown requested", "signal", sig)
		ctrl.Stop()
	}()
}
