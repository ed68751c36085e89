package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skobkin/meshola/internal/api"
	"github.com/skobkin/meshola/internal/app"
	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/connectors"
)

const shutdownTimeout = 10 * time.Second

type launchOptions struct {
	ConfigPath  string
	LogLevel    string
	ShowVersion bool
	Watch       bool
}

func main() {
	opts, err := parseLaunchOptions(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("parse arguments", "error", err)
		os.Exit(2)
	}
	if opts.ShowVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())
		return
	}

	if err := run(opts); err != nil {
		slog.Error("run meshola", "error", err)
		os.Exit(1)
	}
}

func parseLaunchOptions(args []string) (launchOptions, error) {
	fs := flag.NewFlagSet(app.Name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts launchOptions
	fs.StringVar(&opts.ConfigPath, "config", "", "path to config.json or config.yaml")
	fs.StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.Watch, "watch", false, "log every mesh event")
	if err := fs.Parse(args); err != nil {
		return launchOptions{}, err
	}
	if fs.NArg() > 0 {
		return launchOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	return opts, nil
}

func run(opts launchOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, app.Options{ConfigPath: opts.ConfigPath})
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	if opts.LogLevel != "" {
		if err := rt.LogManager.SetLevel(opts.LogLevel); err != nil {
			return err
		}
	}
	logger := rt.LogManager.Logger("cli")

	if opts.Watch {
		watch(ctx, rt.Bus, logger)
	}

	var server *api.Server
	serveErr := make(chan error, 1)
	if rt.Config.API.Enabled {
		server = api.NewServer(rt.Service, api.Config{
			Listen:       rt.Config.API.Listen,
			HistoryLimit: rt.Config.History.LoadLimit,
		}, rt.LogManager.Logger("api"))
		go func() {
			serveErr <- server.ListenAndServe()
		}()
	}

	logger.Info("meshola running", "api", rt.Config.API.Enabled, "radio", rt.Service.State().String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve api: %w", err)
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown api", "error", err)
		}
	}

	return nil
}

// watch logs every bus event until ctx is done or the bus closes.
func watch(ctx context.Context, b bus.MessageBus, logger *slog.Logger) {
	bus.Listen(ctx, b, func(_ string, msg any) {
		logEvent(logger, msg)
	}, connectors.AllTopics...)
}

func logEvent(logger *slog.Logger, raw any) {
	switch ev := raw.(type) {
	case connectors.MessageEvent:
		m := ev.Message
		logger.Info("message",
			"profile", ev.ProfileID,
			"conversation", m.ConversationKey(),
			"incoming", ev.IsIncoming,
			"from", m.SenderName,
			"text", m.Text,
			"rssi", m.RSSI,
			"snr", m.SNR,
		)
	case connectors.ContactEvent:
		logger.Info("contact", "profile", ev.ProfileID, "key", ev.Contact.PublicKey.Short(), "name", ev.Contact.Name, "new", ev.IsNew)
	case connectors.ChannelEvent:
		logger.Info("channel", "profile", ev.ProfileID, "index", ev.Channel.Index, "name", ev.Channel.Name)
	case connectors.StatusEvent:
		logger.Info("status",
			"profile", ev.ProfileID,
			"running", ev.RadioRunning,
			"contacts", ev.ContactCount,
			"rx", ev.Node.RxFrames,
			"tx", ev.Node.TxFrames,
			"crc_errors", ev.Node.CRCErrors,
		)
	case connectors.AckEvent:
		logger.Info("ack", "profile", ev.ProfileID, "ack_id", ev.AckID, "status", ev.Status.String())
	case connectors.ErrorEvent:
		logger.Warn("protocol error", "profile", ev.ProfileID, "code", ev.Code, "message", ev.Message)
	case connectors.ProfileEvent:
		logger.Info("profile switched", "id", ev.ProfileID, "name", ev.Name, "node", ev.NodeName)
	}
}
