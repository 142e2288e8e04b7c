// Copyright 2026 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command echoserver runs a newline-terminated line echo server on the
// streamserve engine. It is a usage example, the protocol logic lives
// entirely in its Handler.
package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeshaw/envdecode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/someonegg/streamserve"
)

type config struct {
	Protocol    string `env:"ECHO_PROTOCOL,default=tcp"`
	Endpoint    string `env:"ECHO_ENDPOINT,default=127.0.0.1:7000"`
	MetricsAddr string `env:"ECHO_METRICS_ADDR"`
	Verbose     bool   `env:"ECHO_VERBOSE,default=false"`
}

type echoHandler struct {
	log *slog.Logger
}

func (h *echoHandler) OnSessionStart(remoteAddr string) error {
	h.log.Info("start session", "remote", remoteAddr)
	return nil
}

func (h *echoHandler) Serve(req []byte, w streamserve.ResponseWriter) (int, error) {
	i := bytes.IndexByte(req, '\n')
	if i < 0 {
		return 0, streamserve.ErrPartialData
	}

	w.Write(req[:i+1])
	return i + 1, nil
}

func (h *echoHandler) OnSessionClose() {
	h.log.Info("end session")
}

// loadConfig populates a config from the environment, falling back to the
// struct-tag defaults. A malformed variable is a startup error, not a
// silent fallback.
func loadConfig() (config, error) {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func main() {
	// defaults come from the struct tags, flags override
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "echoserver",
		Short: "Line echo server built on the streamserve engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Protocol, "protocol", cfg.Protocol, `listen protocol, "tcp" or "unix"`)
	flags.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "host:port for tcp, socket path for unix")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address")
	flags.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	var proto streamserve.Protocol
	switch cfg.Protocol {
	case "tcp":
		proto = streamserve.ProtocolTCP
	case "unix":
		proto = streamserve.ProtocolUnix
	default:
		return fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}

	builder := streamserve.NewBuilder().
		Endpoint(proto, cfg.Endpoint).
		HandlerFactory(streamserve.HandlerFactoryFunc(func() streamserve.Handler {
			return &echoHandler{log: log}
		})).
		Logger(log)

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		builder.MetricsRegisterer(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	server, err := builder.Build()
	if err != nil {
		return err
	}

	log.Info("listening", "protocol", cfg.Protocol, "endpoint", server.Addr())
	server.Run()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigC:
		log.Info("shutting down", "signal", sig.String())
	case <-server.StopD():
		log.Warn("accept loop ended")
	}

	server.Stop()
	return nil
}
