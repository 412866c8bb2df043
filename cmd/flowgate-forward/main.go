// flowgate-forward is a TCP port forwarder whose inbound listener is
// gated by the admission scheduler: at most FLOWGATE_MAX_ACTIVE_FLOWS
// forwarded connections transmit at once, rotated every
// FLOWGATE_EPOCH_US microseconds.
package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hossein/flowgate/internal/proxy"
	"github.com/hossein/flowgate/pkg/flowgate"
)

func main() {
	listen := flag.String("listen", ":9000", "listen address")
	target := flag.String("target", "", "upstream host:port (required)")
	metricsAddr := flag.String("metrics", "", "optional Prometheus listen address, e.g. :9091")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	if *target == "" {
		slog.Error("forward: --target is required")
		os.Exit(1)
	}

	cfg, err := flowgate.FromEnv()
	if err != nil {
		slog.Error("forward: configuration error", "err", err)
		os.Exit(1)
	}

	gate, err := flowgate.New(cfg)
	if err != nil {
		slog.Error("forward: creating gate", "err", err)
		os.Exit(1)
	}
	if err := gate.Start(); err != nil {
		slog.Error("forward: starting scheduler", "err", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(gate.Collectors()...)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Error("forward: metrics server error", "err", err)
			}
		}()
		slog.Info("forward: metrics exposed", "addr", *metricsAddr)
	}

	ln, err := flowgate.Listen(*listen, gate)
	if err != nil {
		slog.Error("forward: listen failed", "addr", *listen, "err", err)
		os.Exit(1)
	}
	slog.Info("forward: ready",
		"listen", ln.Addr(),
		"target", *target,
		"maxActiveFlows", cfg.MaxActiveFlows,
		"epoch", cfg.Epoch(),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			slog.Error("forward: accept error", "err", err)
			return
		}
		go handleConn(conn, *target)
	}
}

func handleConn(conn net.Conn, target string) {
	defer conn.Close()

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		slog.Error("forward: dial upstream failed", "target", target, "err", err)
		return
	}
	defer upstream.Close()

	in, out := proxy.Bridge(conn, upstream)
	slog.Debug("forward: connection finished",
		"remote", conn.RemoteAddr(),
		"bytesIn", in,
		"bytesOut", out,
	)
}
