// flowgate-socks5 runs a SOCKS5 proxy whose inbound listener is gated by
// the admission scheduler, so a burst of client connections is admitted
// at most FLOWGATE_MAX_ACTIVE_FLOWS at a time.
package main

import (
	"flag"
	"log/slog"
	"os"

	socks5 "github.com/armon/go-socks5"
	"github.com/lmittmann/tint"

	"github.com/hossein/flowgate/pkg/flowgate"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:1080", "SOCKS5 listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	cfg, err := flowgate.FromEnv()
	if err != nil {
		slog.Error("socks5: configuration error", "err", err)
		os.Exit(1)
	}

	gate, err := flowgate.New(cfg)
	if err != nil {
		slog.Error("socks5: creating gate", "err", err)
		os.Exit(1)
	}
	if err := gate.Start(); err != nil {
		slog.Error("socks5: starting scheduler", "err", err)
		os.Exit(1)
	}

	srv, err := socks5.New(&socks5.Config{})
	if err != nil {
		slog.Error("socks5: socks5.New failed", "err", err)
		os.Exit(1)
	}

	ln, err := flowgate.Listen(*listen, gate)
	if err != nil {
		slog.Error("socks5: listen failed", "addr", *listen, "err", err)
		os.Exit(1)
	}
	slog.Info("socks5: proxy ready",
		"listen", ln.Addr(),
		"maxActiveFlows", cfg.MaxActiveFlows,
		"epoch", cfg.Epoch(),
	)

	if err := srv.Serve(ln); err != nil {
		slog.Error("socks5: server error", "err", err)
		os.Exit(1)
	}
}
