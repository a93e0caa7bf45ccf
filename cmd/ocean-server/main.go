package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stn81/ocean"
	"github.com/stn81/ocean/config"
	"github.com/stn81/ocean/dispatch"
	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
)

type serverFlags struct {
	ConfigFile  string
	Port        int
	MetricsAddr string
	LogLevel    string
}

var flags serverFlags

var rootCmd = &cobra.Command{
	Use:          "ocean-server",
	Short:        "Answer tagged request packets over TCP",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadServerConfig(flags.ConfigFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			conf.Port = flags.Port
		}
		if cmd.Flags().Changed("metrics-addr") {
			conf.MetricsAddr = flags.MetricsAddr
		}
		if cmd.Flags().Changed("log-level") {
			conf.Log.Level = flags.LogLevel
		}
		if err = conf.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, conf)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "TOML config file")
	rootCmd.Flags().IntVarP(&flags.Port, "port", "p", config.DefaultPort, "listen port")
	rootCmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.Flags().StringVar(&flags.LogLevel, "log-level", "info", "debug|info|warn|error")
}

func run(ctx context.Context, conf *config.ServerConfig) error {
	logger, err := config.NewLogger(conf.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ocean.SetLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := ocean.NewPacketServer(ctx, conf.TCPServerConfig(), ocean.PacketServerOptions{
		Types:    packet.NewBuiltinTypeRegistry(),
		Handlers: dispatch.NewDefaultRegistry(),
		Session:  conf.SessionConfig(),
		Logger:   logger,
		Metrics:  m,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.ListenAndServe(conf.Addr())
		if errors.Is(err, ocean.ErrServerClosed) {
			return nil
		}
		return err
	})

	var metricsSrv *http.Server
	if conf.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: conf.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics endpoint started", zap.String("addr", conf.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		srv.Close()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
