package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/oklog/ulid/v2"
)

const usage = "usage: btpanel [manager|connect|devices|battery [address]]"

func main() {
	cmd := "manager"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	cfg, err := Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "manager":
		err = runManager(ctx, cfg, logger)
	case "connect":
		err = runConnect(cfg, logger)
	case "devices":
		err = newOneShot(ctx, cfg, logger).runDevices(ctx)
	case "battery":
		var addr string
		if len(os.Args) >= 3 {
			addr = os.Args[2]
		}
		addr, err = resolveDevice(cfg, addr)
		if err == nil {
			err = newOneShot(ctx, cfg, logger).runBattery(ctx, addr)
		}
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", cmd, usage)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func channelOptions(cfg *Config, logger *slog.Logger) ChannelOptions {
	return ChannelOptions{
		DialTimeout: cfg.Helper.DialTimeout,
		MaxSendRate: cfg.Helper.MaxSendRate,
		Logger:      logger,
	}
}

func newOneShot(ctx context.Context, cfg *Config, logger *slog.Logger) oneShot {
	newID := func() string { return "" }
	if cfg.Helper.CorrelateRequests {
		newID = func() string { return ulid.Make().String() }
	}
	return oneShot{
		endpoint: resolveEndpoint(ctx, cfg.Helper, logger),
		opts:     channelOptions(cfg, logger),
		timeout:  cfg.Helper.CmdTimeout,
		newID:    newID,
		out:      os.Stdout,
		logger:   logger,
	}
}

func runManager(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	m := NewManagerModel(ManagerDeps{
		Endpoint:  resolveEndpoint(ctx, cfg.Helper, logger),
		Channel:   channelOptions(cfg, logger),
		Correlate: cfg.Helper.CorrelateRequests,
		Logger:    logger,
	})
	// The initial model owns the first channel; reconnects replace it inside
	// the final model. Both are closed on the way out.
	defer m.Close()

	final, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if fm, ok := final.(ManagerModel); ok {
		fm.Close()
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("run manager: %w", err)
	}
	return nil
}

func runConnect(cfg *Config, logger *slog.Logger) error {
	pairer, closePairer, err := newPairer(cfg.Pairer, logger)
	if err != nil {
		return err
	}
	defer closePairer()

	filter := Filter{AcceptAllDevices: cfg.Pairer.NamePrefix == "", NamePrefix: cfg.Pairer.NamePrefix}
	m := NewConnectorModel(pairer, filter, logger)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		return fmt.Errorf("run connector: %w", err)
	}
	return nil
}
