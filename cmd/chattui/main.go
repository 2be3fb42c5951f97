package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/shopchat/internal/chat"
	"github.com/matheus3301/shopchat/internal/client"
	"github.com/matheus3301/shopchat/internal/config"
	"github.com/matheus3301/shopchat/internal/session"
	"github.com/matheus3301/shopchat/internal/tui"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	userFlag := flag.String("user", "", "user id (overrides config)")
	hubFlag := flag.String("hub", "", "hub URL (overrides config)")
	flag.Parse()

	if err := run(*configFlag, *userFlag, *hubFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, userOverride, hubOverride string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		return err
	}
	if hubOverride != "" {
		cfg.Hub.URL = hubOverride
	}
	user, err := session.Resolve(userOverride, cfg)
	if err != nil {
		return err
	}

	var c client.Client
	app := fx.New(
		client.Module(client.Params{Config: cfg, User: chat.UserID(user)}),
		client.Into(&c),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("connect to hub %s: %w", cfg.Hub.URL, err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return tui.NewApp(c, cfg.Hub.URL).Run()
}
