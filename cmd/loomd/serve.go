package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/loomcode/loom/internal/auth"
	"github.com/loomcode/loom/internal/broker"
	"github.com/loomcode/loom/internal/clock"
	"github.com/loomcode/loom/internal/config"
	"github.com/loomcode/loom/internal/gateway"
	"github.com/loomcode/loom/internal/history"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/launcher"
	"github.com/loomcode/loom/internal/logger"
	"github.com/loomcode/loom/internal/lsproute"
	"github.com/loomcode/loom/internal/metrics"
	"github.com/loomcode/loom/internal/ports"
	"github.com/loomcode/loom/internal/shareddoc"
	"github.com/loomcode/loom/internal/syntax"
	"github.com/loomcode/loom/internal/syntaxdrive"
	"github.com/loomcode/loom/internal/syntaxengine"
	"github.com/loomcode/loom/internal/transport"
	"github.com/loomcode/loom/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// broadcastProxy defers shareddoc.Broadcaster calls to target, which is
// assigned once the daemon's gateway exists (see runServe's comment at
// its construction site).
type broadcastProxy struct {
	target shareddoc.Broadcaster
}

func (p *broadcastProxy) BroadcastDocEvent(participants []ids.SessionId, frame wire.Frame) {
	if p.target != nil {
		p.target.BroadcastDocEvent(participants, frame)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath  string
		listen      string
		metricsAddr string
		logLevel    string
		logFile     string
		authSecret  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loomd broker daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveOptions{
				configPath:  configPath,
				listen:      listen,
				metricsAddr: metricsAddr,
				logLevel:    logLevel,
				logFile:     logFile,
				authSecret:  authSecret,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "loomd.yaml", "Path to the daemon's YAML config file")
	cmd.Flags().StringVar(&listen, "listen", ":7777", "Websocket listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus /metrics listen address (empty disables)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Additional log file path (stdout is always written)")
	cmd.Flags().StringVar(&authSecret, "auth-secret", "", "Shared HS256 secret for session bearer tokens (empty disables auth)")

	return cmd
}

type serveOptions struct {
	configPath  string
	listen      string
	metricsAddr string
	logLevel    string
	logFile     string
	authSecret  string
}

func runServe(opts serveOptions) error {
	if err := logger.Init(opts.logLevel, opts.logFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Component("loomd")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)
	metricsReg.PermitsCapacity.Set(float64(cfg.Permits))

	var validator *auth.Validator
	if opts.authSecret != "" {
		validator, err = auth.NewValidator(opts.authSecret)
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
	} else {
		log.Warn("starting without session authentication: --auth-secret is empty")
	}

	var historyStore ports.HistoryStore
	if cfg.History.Driver == "sqlite" {
		store, err := history.Open(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		historyStore = store
	}

	timer := clock.New()
	launch := launcher.New()

	brk := broker.NewCore(launch, timer, broker.WithIdleLease(cfg.IdleLease))

	engine := syntaxengine.New()
	collector := syntax.NewCollector(engine, cfg.Permits)
	syntaxPolicy := cfg.SyntaxPolicy()
	mgr := syntax.NewManager(syntaxPolicy, collector, timer)
	driver := syntaxdrive.New(mgr, syntaxPolicy, syntaxengine.DefaultLoader{}, timer, metricsReg, logger.Component("syntax"))

	// gw implements shareddoc.Broadcaster, but shareddoc.Core needs that
	// option at construction while gw needs the constructed *Core —
	// broadcastProxy breaks the cycle by deferring to whatever target is
	// assigned once gw exists.
	var broadcaster broadcastProxy
	docs := shareddoc.NewCore(timer,
		shareddoc.WithHistoryStore(historyStore),
		shareddoc.WithRouter(driver),
		shareddoc.WithBroadcaster(&broadcaster),
	)

	router := lsproute.NewRouter(brk, launch, logger.Component("lsproute"))

	gw := gateway.New(validator, brk, docs, router, driver, metricsReg, logger.Component("gateway"))
	broadcaster.target = gw

	srv := transport.NewServer(gw, logger.Component("transport"))

	httpSrv := &http.Server{Addr: opts.listen, Handler: srv}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go brk.Run(ctx)
	go docs.Run(ctx)
	go driver.Run(ctx, 200*time.Millisecond)
	go metrics.Serve(ctx, opts.metricsAddr, reg, logger.Component("metrics"))

	for _, profile := range cfg.Servers {
		log.Info("static server profile configured", "command", profile.Command, "seed", profile.ProjectKeySeed)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("loomd listening", "addr", opts.listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
