package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/daemon"
	"github.com/matheus3301/shopchat/internal/session"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Server.Listen = *listenFlag
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
