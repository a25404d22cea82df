package main

import (
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/yuyyi51/ylog"

	"github.com/yuyyi51/udp-prague/flow"
	"github.com/yuyyi51/udp-prague/internal/stats"
	"github.com/yuyyi51/udp-prague/utils"
)

func createApp() *cli.App {
	app := &cli.App{
		Name:  "udp-prague",
		Usage: "send or receive a Prague/L4S congestion-controlled UDP flow",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "role",
				Aliases:  []string{"r"},
				Usage:    "flow role, `sender` or `receiver`",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "address",
				Aliases:  []string{"a"},
				Usage:    "sender: peer `ADDRESS` to dial; receiver: local `ADDRESS` to bind",
				Required: true,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   flow.DefaultPort,
				Usage:   "connect or listen the `PORT`",
			},
			&cli.Int64Flag{
				Name:  "max_packet_size",
				Value: flow.DefaultMaxPacketSize,
				Usage: "maximum UDP payload size in bytes",
			},
			&cli.Uint64Flag{
				Name:  "min_rate",
				Usage: "minimum pacing rate in bytes/sec (0 uses the engine default of 12500)",
			},
			&cli.Uint64Flag{
				Name:  "max_rate",
				Value: flow.DefaultMaxRate,
				Usage: "maximum pacing rate in bytes/sec",
			},
			&cli.BoolFlag{
				Name:  "block_ack",
				Usage: "receiver: use periodic RFC-8888-style block ACKs instead of one summary ACK per packet",
			},
			&cli.DurationFlag{
				Name:  "block_ack_period",
				Value: flow.DefaultBlockAckPeriod,
				Usage: "receiver: interval between block ACK batches",
			},
			&cli.BoolFlag{
				Name:  "rt_mode",
				Usage: "sender: pace by video frame instead of a flat byte stream",
			},
			&cli.IntFlag{
				Name:  "fps",
				Value: flow.DefaultFPS,
				Usage: "rt_mode: frames per second",
			},
			&cli.DurationFlag{
				Name:  "frame_duration",
				Value: flow.DefaultFrameDuration,
				Usage: "rt_mode: time budget per frame",
			},
			&cli.IntFlag{
				Name:  "max_timeout",
				Value: flow.DefaultMaxTimeout,
				Usage: "sender: consecutive RTOs tolerated before giving up",
			},
			&cli.StringFlag{
				Name:  "log_level",
				Value: "info",
				Usage: "log level, could be trace, debug, info, notice, warn, error, fatal, none",
			},
			&cli.StringFlag{
				Name:  "log_prefix",
				Value: "udp-prague",
				Usage: "log file prefix",
			},
			&cli.StringFlag{
				Name:  "log_dir",
				Value: "log",
				Usage: "log file directory",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "suppress console logging, file logging only",
			},
			&cli.StringFlag{
				Name:  "stats_file",
				Usage: "sender: append one JSON line per report interval to `FILE`",
			},
			&cli.DurationFlag{
				Name:  "stats_interval",
				Value: time.Second,
				Usage: "sender: interval between stats reports",
			},
			&cli.IntFlag{
				Name:  "pprof_port",
				Usage: "start a pprof server on `PORT`",
			},
		},
		Action: appAction,
	}
	return app
}

func appAction(c *cli.Context) error {
	logger, err := utils.BuildLogger(utils.LoggerConfig{
		Level:     c.String("log_level"),
		Prefix:    c.String("log_prefix"),
		Directory: c.String("log_dir"),
		Quiet:     c.Bool("quiet"),
	})
	if err != nil {
		log.Fatalf("%v", err)
	}

	if pprofPort := c.Int("pprof_port"); pprofPort != 0 {
		go func() {
			logger.Debug("%v", http.ListenAndServe(fmt.Sprintf("localhost:%d", pprofPort), nil))
		}()
	}

	cfg := flow.Config{
		ListenAddr:     c.String("address"),
		Port:           c.Int("port"),
		MaxPacketSize:  c.Int64("max_packet_size"),
		MinRate:        c.Uint64("min_rate"),
		MaxRate:        c.Uint64("max_rate"),
		BlockAck:       c.Bool("block_ack"),
		BlockAckPeriod: c.Duration("block_ack_period"),
		RTMode:         c.Bool("rt_mode"),
		FPS:            c.Int("fps"),
		FrameDuration:  c.Duration("frame_duration"),
		MaxTimeout:     c.Int("max_timeout"),
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Notice("udp-prague: shutting down")
		close(stop)
	}()

	uptime := utils.NewCostTimer()

	switch c.String("role") {
	case "sender":
		cfg.Role = flow.RoleSender
		return runSender(c, cfg, logger, stop, &uptime)
	case "receiver":
		cfg.Role = flow.RoleReceiver
		return runReceiver(cfg, logger, stop, &uptime)
	default:
		return fmt.Errorf("udp-prague: unknown role %q, must be sender or receiver", c.String("role"))
	}
}

func runSender(c *cli.Context, cfg flow.Config, logger ylog.ILogger, stop <-chan struct{}, uptime *utils.CostTimer) error {
	sender, err := flow.Dial(c.String("address"), cfg, logger)
	if err != nil {
		return fmt.Errorf("udp-prague: %w", err)
	}
	defer sender.Close()

	if statsFile := c.String("stats_file"); statsFile != "" {
		sink, err := stats.NewJSONLineWriter(statsFile)
		if err != nil {
			return fmt.Errorf("udp-prague: open stats file: %w", err)
		}
		defer sink.Close()
		sender.SetReporter(stats.NewSenderReporter(c.Duration("stats_interval")), sink)
	} else {
		sender.SetReporter(stats.NewSenderReporter(c.Duration("stats_interval")), nil)
	}

	logger.Notice("udp-prague: sender connected to %s:%d", c.String("address"), c.Int("port"))
	err = sender.Run(stop)
	logger.Notice("udp-prague: sender exiting after %s", uptime.Cost())
	if err != nil {
		return fmt.Errorf("udp-prague: sender: %w", err)
	}
	return nil
}

func runReceiver(cfg flow.Config, logger ylog.ILogger, stop <-chan struct{}, uptime *utils.CostTimer) error {
	receiver, err := flow.Listen(cfg, logger)
	if err != nil {
		return fmt.Errorf("udp-prague: %w", err)
	}
	defer receiver.Close()

	logger.Notice("udp-prague: receiver listening on %s:%d", cfg.ListenAddr, cfg.Port)
	err = receiver.Run(stop)
	logger.Notice("udp-prague: receiver exiting after %s", uptime.Cost())
	if err != nil {
		return fmt.Errorf("udp-prague: receiver: %w", err)
	}
	return nil
}

func main() {
	if err := createApp().Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}
