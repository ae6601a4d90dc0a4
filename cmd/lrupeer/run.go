package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/genlru/cache"
	"github.com/IvanBrykalov/genlru/internal/config"
	"github.com/IvanBrykalov/genlru/internal/logging"
	"github.com/IvanBrykalov/genlru/metrics/prom"
	"github.com/IvanBrykalov/genlru/overlay/tcp"
	"github.com/IvanBrykalov/genlru/replication"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a cache node and read commands from stdin",
		Long: `Start a cache node. Commands are read from stdin, one per line; type "help" for the list.
Changing cache.max_size in the config file resizes the running cache.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.load(cmd)
			if err != nil {
				return err
			}
			cfg := m.Config()

			root, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)
			if err != nil {
				return err
			}
			root = root.With().Str("node", cfg.Node.Name).Logger()
			m.SetLogger(logging.Component(root, "config"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := startNode(cfg, root)
			if err != nil {
				return err
			}
			defer n.close()

			m.OnChange(n.applyConfig)
			m.Watch()
			if f := m.ConfigFileUsed(); f != "" {
				n.log.Info().Str("file", f).Msg("watching config")
			}

			r := &repl{cache: n.cache, status: n.status}
			return r.serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// node is one running lrupeer instance.
type node struct {
	log     *zerolog.Logger
	cache   cache.Cache[string, json.RawMessage]
	overlay *tcp.Overlay // nil without replication
	metrics *http.Server // nil when disabled
}

func startNode(cfg config.Config, root zerolog.Logger) (*node, error) {
	n := &node{log: logging.Component(root, "lrupeer")}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	met := prom.New(reg, cfg.Metrics.Namespace, "", prometheus.Labels{"node": cfg.Node.Name})

	opt := cache.Options[string, json.RawMessage]{
		MaxSize: cfg.Cache.MaxSize,
		Metrics: met,
		OnEvict: func(k string, _ json.RawMessage, reason cache.EvictReason) {
			n.log.Debug().Str("key", k).Stringer("reason", reason).Msg("evicted")
		},
	}

	if rc := cfg.Replication; rc.Topic != "" {
		n.overlay = tcp.New(tcp.Config{
			ListenAddr:   rc.Listen,
			Peers:        rc.Peers,
			DialTimeout:  rc.DialTimeout,
			DialAttempts: rc.DialAttempts,
			Logger:       &root,
		})
		opt.Replication = &replication.Config{
			Topic:        rc.Topic,
			Overlay:      n.overlay,
			Logger:       &root,
			QueueSize:    rc.QueueSize,
			MaxLineBytes: rc.MaxLineBytes,
			Metrics:      met,
			OnStateChange: func(s replication.State) {
				n.log.Info().Stringer("state", s).Msg("replication state changed")
			},
		}
	}

	c, err := cache.New(opt)
	if err != nil {
		if n.overlay != nil {
			_ = n.overlay.Close()
		}
		return nil, err
	}
	n.cache = c

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		n.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			n.log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
			if err := n.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	n.log.Info().
		Int("max_size", cfg.Cache.MaxSize).
		Bool("replication", opt.Replication != nil).
		Msg("node started")
	return n, nil
}

// applyConfig reacts to a reloaded config file. Only the capacity is applied
// live; everything else needs a restart.
func (n *node) applyConfig(old, cur config.Config) {
	if cur.Cache.MaxSize != old.Cache.MaxSize {
		if err := n.cache.Resize(cur.Cache.MaxSize); err != nil {
			n.log.Error().Err(err).Msg("resize failed")
		} else {
			n.log.Info().Int("from", old.Cache.MaxSize).Int("to", cur.Cache.MaxSize).Msg("cache resized")
		}
	}
	if cur.Replication.Topic != old.Replication.Topic ||
		cur.Replication.Listen != old.Replication.Listen ||
		cur.Metrics.Addr != old.Metrics.Addr {
		n.log.Warn().Msg("replication and metrics settings change on restart only")
	}
}

func (n *node) status() string {
	switch {
	case n.overlay == nil:
		return "replication disabled"
	case n.cache.Replicating():
		return "replicating"
	default:
		return "not connected"
	}
}

func (n *node) close() {
	if err := n.cache.Close(); err != nil {
		n.log.Warn().Err(err).Msg("close cache")
	}
	if n.overlay != nil {
		if err := n.overlay.Close(); err != nil {
			n.log.Warn().Err(err).Msg("close overlay")
		}
	}
	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = n.metrics.Shutdown(ctx)
	}
	n.log.Info().Msg("node stopped")
}
