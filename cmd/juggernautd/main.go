// Command juggernautd runs the Juggernaut publish/subscribe broker: clients
// subscribe to channels over persistent NUL-framed JSON connections and
// authorized parties broadcast to channels or to specific logical clients.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pushlane/juggernaut/juggernaut"
)

var (
	flagConfig   = flag.String("c", "", "path to YAML configuration file")
	flagGenerate = flag.String("g", "", "generate an example configuration file and exit")
	flagHost     = flag.String("host", "", "listen host (overrides config)")
	flagPort     = flag.Int("p", 0, "listen port (overrides config)")
	flagDebug    = flag.Bool("e", false, "debug logging")
)

func main() {
	flag.Parse()

	if *flagGenerate != "" {
		if err := generateConfig(*flagGenerate); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("config file generated at %s\n", *flagGenerate)
		return
	}

	logger, err := buildLogger(*flagDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	opts, err := loadConfig(*flagConfig)
	if err != nil {
		logger.Fatal("configuration failed", zap.Error(err))
	}
	if *flagHost != "" {
		opts.Host = *flagHost
	}
	if *flagPort != 0 {
		opts.Port = *flagPort
	}

	srv := juggernaut.NewServer(opts, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("start failed", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	srv.Stop()
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
