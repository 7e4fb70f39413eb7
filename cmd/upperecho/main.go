// Command upperecho runs the uppercase echo server until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/upperecho/app"
	"github.com/cyberinferno/upperecho/config"
	"github.com/cyberinferno/upperecho/logger"
)

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	l, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, l); err != nil {
		l.Error("server exited", logger.Field{Key: "error", Value: err})
		l.Close()
		os.Exit(1)
	}
}
