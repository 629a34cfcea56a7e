package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aricall/ari"
	"aricall/cdr"

	"gopkg.in/ini.v1"
)

func settingsPath() string {
	if p := os.Getenv("ARICALL_SETTINGS"); p != "" {
		return p
	}
	return "settings.ini"
}

func startClient(settings *Settings) (*ari.Client, error) {
	coreLog.Infof("connecting to ARI at %s as application %s", settings.ARIBaseURL(), settings.Application())
	return ari.NewClient(ari.Config{
		BaseURL:     settings.ARIBaseURL(),
		User:        settings.ARIUser(),
		Password:    settings.ARIPassword(),
		Application: settings.Application(),
		Log:         ariLog,
		FrameLog:    eventsLog,
		Reconnect:   settings.ReconnectTime(),
	})
}

func run(cfg *ini.File, settings *Settings) error {
	shutdownTracing, err := setupTracing(context.Background(), settings.TracingEndpoint())
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			coreLog.Warnf("tracing shutdown: %v", err)
		}
	}()

	store, err := cdr.Open(settings.CDRDatabase())
	if err != nil {
		return fmt.Errorf("cdr: %w", err)
	}
	defer store.Close()

	dir := NewDirectory()
	if err := dir.Load(cfg.Section("directory")); err != nil {
		return err
	}
	coreLog.Infof("directory has %d extensions", dir.Len())

	client, err := startClient(settings)
	if err != nil {
		return err
	}
	app, err := NewApp(client.Router(), client, store, dir, settings)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	app.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx, client)
}

func main() {
	cfg, err := ini.Load(settingsPath())
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	if err := initLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	defer closeLogging()
	coreLog.Info("settings loaded")

	if err := run(cfg, settings); err != nil {
		coreLog.Errorf("aricall stopped: %v", err)
	}
	coreLog.Info("performing a graceful shutdown...")
}
