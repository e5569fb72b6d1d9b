package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"alpha_bot/internal/modules/config"
	"alpha_bot/internal/modules/health"
	"alpha_bot/internal/modules/postgres"
	telegram "alpha_bot/internal/modules/telegram_bot"
	"alpha_bot/internal/runner"
	"alpha_bot/pkg/logger"
	"alpha_bot/pkg/tracing"
)

const (
	serviceName  = "alphabot"
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "alphabot:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		account    string
		list       bool
		dryRun     bool
		monitor    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "accounts file (default $CONFIG_FILE or ./accounts.yaml, env mode if absent)")
	flag.StringVar(&account, "account", "", "run only this account")
	flag.BoolVar(&list, "list", false, "print accounts and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "print accounts that would start and exit")
	flag.DurationVar(&monitor, "monitor", time.Minute, "status summary interval, 0 disables")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if list {
		printAccounts(os.Stdout, cfg.Accounts)
		return nil
	}

	selected, err := selectAccounts(cfg, account)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(os.Stdout, "source: %s\n", cfg.Source)
		printAccounts(os.Stdout, selected)
		return nil
	}

	log, err := logger.New(logger.Options{Service: serviceName, Dir: cfg.Log.Dir, Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var manager *runner.Manager
	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Supply(log),
		fx.Provide(
			func() context.Context {
				return ctx
			},
			newTracer,
		),
		config.Module(cfg),
		health.Module(),
		postgres.Module(),
		runner.Module(runner.WithMonitorInterval(monitor)),
		telegram.Module(),
		fx.Populate(&manager),
	)

	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return errors.Wrap(err, "start")
	}

	names := make([]string, 0, len(selected))
	for _, a := range selected {
		names = append(names, a.Name)
	}
	log.Info("starting accounts", zap.Strings("accounts", names), zap.String("source", cfg.Source))
	runErr := manager.RunAll(ctx, names)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		runErr = multierr.Append(runErr, errors.Wrap(err, "stop"))
	}
	if runErr != nil {
		log.Error("finished with errors", zap.Error(runErr))
	} else {
		log.Info("all accounts finished")
	}
	return runErr
}

// selectAccounts: -account берёт один аккаунт (даже выключенный), иначе все включённые.
func selectAccounts(cfg *config.Config, name string) ([]config.Account, error) {
	if name != "" {
		acc, ok := cfg.Account(name)
		if !ok {
			return nil, errors.Errorf("account %q not found in %s", name, cfg.Source)
		}
		return []config.Account{acc}, nil
	}
	enabled := cfg.Enabled()
	if len(enabled) == 0 {
		return nil, errors.Wrap(runner.ErrNoAccounts, "all accounts are disabled")
	}
	return enabled, nil
}

func printAccounts(w io.Writer, accounts []config.Account) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tBROWSER\tOTP\tCOST\tRUNS")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%t\t%s:%d\t%t\t%g\t%d\n",
			a.Name, a.Enabled, a.Host, a.Port, a.Secret != "", a.Cycle.Cost, a.Cycle.TotalRuns)
	}
	_ = tw.Flush()
}

func newTracer(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (opentracing.Tracer, error) {
	tracer, closeFn, err := tracing.InitTracer(tracing.Config{
		Service: serviceName,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return tracer, nil
}
