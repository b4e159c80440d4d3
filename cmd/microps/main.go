// microps runs a userspace TCP/IP stack over a TAP interface or a
// promiscuous packet socket, configured from a TOML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cerdav/microps/internal/config"
	"github.com/cerdav/microps/stack"
	"github.com/cerdav/microps/udp"
)

func main() {
	configPath := flag.String("config", "/etc/microps/config.toml", "path to configuration file")
	echoPort := flag.Uint("echo-port", 7, "local UDP port the built-in echo responder binds, 0 to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("microps starting", "config", *configPath, "interfaces", len(cfg.Interfaces))

	st, err := stack.New(cfg)
	if err != nil {
		logger.Error("stack init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st.Run(ctx)

	if cfg.Metrics.Enabled {
		go func() {
			mux := nethttp.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics server listening", "addr", cfg.Metrics.ListenAddr)
			if err := nethttp.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	if *echoPort != 0 && len(cfg.Interfaces) > 0 {
		iface := st.Interface(cfg.Interfaces[0].Name)
		ep, err := st.UDP().Open(iface.Unicast(), uint16(*echoPort))
		if err != nil {
			logger.Error("echo responder bind failed", "error", err)
		} else {
			go runEchoResponder(ep, logger)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if err := st.Close(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runEchoResponder bounces every datagram it receives back to its sender,
// used to exercise the stack end to end without extra tooling.
func runEchoResponder(ep *udp.Endpoint, logger *slog.Logger) {
	for {
		addr, port, data, err := ep.RecvFrom(-1)
		if err != nil {
			logger.Debug("echo responder stopped", "error", err)
			return
		}
		if err := ep.SendTo(data, addr, port); err != nil {
			logger.Error("echo responder send failed", "error", err, "peer", addr.String())
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
