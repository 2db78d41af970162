package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/Operative-001/torchat/internal/buddy"
	"github.com/Operative-001/torchat/internal/config"
	"github.com/Operative-001/torchat/internal/engine"
	"github.com/Operative-001/torchat/internal/logging"
	"github.com/Operative-001/torchat/internal/tor"
	"github.com/Operative-001/torchat/internal/transport"
)

const metricsShutdownTimeout = 5 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the TorChat node",
	Long: `Listens for buddies on service.listen (the local end of the Tor hidden
service), dials out through the Tor SOCKS proxy and keeps the buddy list in
the data directory. Incoming messages are printed; type help for console
commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		noConsole, _ := cmd.Flags().GetBool("no-console")
		return runDaemon(cmd.Context(), cfg, !noConsole)
	},
}

func runDaemon(parent context.Context, cfg *config.Config, interactive bool) (err error) {
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	id, err := cfg.ResolveID()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	store, err := buddy.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open buddy list: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := engine.New(engine.Config{
		ID:             id,
		Dialer:         tor.NewDialer(cfg.TorProxy, cfg.ServicePort),
		ConnectTimeout: cfg.ConnectTimeout,
		RejectCooldown: cfg.RejectCooldown,
		ClientName:     cfg.ClientName,
		ClientVersion:  cfg.ClientVersion,
		Info:           cfg.Info(),
		Logger:         log,
		Registerer:     reg,
	})
	if err != nil {
		return err
	}

	mon := buddy.NewMonitor(store, cfg.AcceptUnknown, log)
	mon.OnMessage = func(msg engine.Message) {
		from := msg.BuddyID
		if b, err := store.Get(from); err == nil && b.Name != "" {
			from = b.Name + " (" + from + ")"
		}
		fmt.Printf("\n📨 [%s] %s\n> ", from, msg.Text)
	}
	sub := eng.Subscribe(mon)
	defer sub.Cancel()

	ln, err := transport.ListenTCP(cfg.Listen)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen %s: %w", cfg.Listen, err), eng.Shutdown())
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.Serve(ln); !errors.Is(err, engine.ErrClosed) {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", slog.String("addr", cfg.MetricsListen))
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		var err error
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			err = metricsSrv.Shutdown(sctx)
			cancel()
		}
		return multierr.Append(err, eng.Shutdown())
	})

	if cfg.Autoconnect {
		if err := autoconnect(eng, store, log); err != nil {
			log.Warn("autoconnect", slog.Any("err", err))
		}
	}

	printBanner(cfg, id)

	if interactive {
		c := &console{eng: eng, buddies: store, info: cfg.Info(), out: os.Stdout}
		go func() {
			c.run(os.Stdin)
			stop()
		}()
	}

	return g.Wait()
}

// autoconnect dials every buddy that is not blocked.
func autoconnect(eng *engine.Engine, store *buddy.Store, log *slog.Logger) error {
	all, err := store.All()
	if err != nil {
		return err
	}
	var errs error
	for _, b := range all {
		if b.Blocked {
			continue
		}
		log.Debug("autoconnect", slog.String("peer", b.ID))
		errs = multierr.Append(errs, eng.Connect(b.ID))
	}
	return errs
}

func printBanner(cfg *config.Config, id string) {
	fmt.Printf("\n")
	fmt.Printf("  TorChat\n\n")
	fmt.Printf("  Identity  : %s\n", id)
	fmt.Printf("  Listening : %s\n", cfg.Listen)
	fmt.Printf("  Tor SOCKS : %s\n", cfg.TorProxy)
	fmt.Printf("  Data      : %s\n", cfg.DataDir)
	if cfg.MetricsListen != "" {
		fmt.Printf("  Metrics   : http://%s/metrics\n", cfg.MetricsListen)
	}
	fmt.Printf("\n  Point your hidden service's port %d at %s.\n\n", cfg.ServicePort, cfg.Listen)
}

func init() {
	f := daemonCmd.Flags()
	f.String("id", "", "Local 16-character id (overrides service.id)")
	f.String("hostname-file", "", "Tor hidden service hostname file")
	f.String("listen", "", "Listen address for the hidden service target")
	f.String("proxy", "", "Tor SOCKS5 proxy address")
	f.Int("service-port", 0, "Port buddies' hidden services listen on")
	f.Bool("accept-unknown", false, "Let strangers add themselves to the buddy list")
	f.String("metrics", "", "Serve Prometheus metrics on this address")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("log-format", "", "text or json")
	f.Bool("no-console", false, "Do not read commands from stdin")
}
