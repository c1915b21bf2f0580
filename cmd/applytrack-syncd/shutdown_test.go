//go:build !windows

package main

import (
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestWaitForShutdown_WithSIGHUP(t *testing.T) {
	path := writeTestConfig(t)
	app, err := setup(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := startServices(app); err != nil {
		t.Fatal(err)
	}
	waitHealthy(t, app.Config.Addr())

	cfg := *app.Config
	cfg.Log.Level = "warn"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	// SIGHUP reloads and continues, SIGINT shuts down.
	go func() {
		time.Sleep(100 * time.Millisecond)
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(syscall.SIGHUP)
		time.Sleep(100 * time.Millisecond)
		_ = p.Signal(syscall.SIGINT)
	}()

	if err := waitForShutdown(app); err != nil {
		t.Fatalf("waitForShutdown error: %v", err)
	}
	if app.LogLevel.Level() != slog.LevelWarn {
		t.Errorf("expected warn level after SIGHUP, got %v", app.LogLevel.Level())
	}
}
