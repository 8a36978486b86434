// Command taskbrokerd boots the persistent, tag-routed priority task
// broker: it loads configuration, opens the durable log and credential
// store, replays history into the broker, seeds the default user on
// first boot, and serves the wire protocol until it receives SIGINT or
// SIGTERM. Grounded on the teacher's nsqd binary's boot sequence
// (config → stores → listeners → signal-driven shutdown), generalized
// from nsqd's topic/channel hierarchy to this system's single logical
// queue.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/zlepper/brqueue/internal/auth"
	"github.com/zlepper/brqueue/internal/broker"
	"github.com/zlepper/brqueue/internal/config"
	"github.com/zlepper/brqueue/internal/storage"
	"github.com/zlepper/brqueue/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./taskbrokerd.toml", "path to an optional TOML config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := logrus.NewEntry(logger)

	cfg, err := config.Load(*configPath, flag.Args())
	if err != nil {
		entry.WithError(err).Error("failed to load configuration")
		return 1
	}

	b, err := broker.Open(storage.Config{
		Prefix:       cfg.StoragePrefix,
		RequireFlush: cfg.RequireFlush,
		Log:          entry,
	}, entry)
	if err != nil {
		entry.WithError(err).Error("failed to open durable log")
		return 1
	}
	defer func() {
		if err := b.Close(); err != nil {
			entry.WithError(err).Error("failed to close durable log")
		}
	}()

	store, err := auth.Open(cfg.AuthFile, cfg.BcryptCost)
	if err != nil {
		entry.WithError(err).Error("failed to open credential store")
		return 1
	}

	seeded, err := store.AddIfEmpty(cfg.DefaultUser, cfg.DefaultPassword)
	if err != nil {
		entry.WithError(err).Error("failed to seed default user")
		return 1
	}
	if seeded {
		entry.WithField("user", cfg.DefaultUser).Info("seeded default user")
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		entry.WithError(err).WithField("address", cfg.ListenAddress).Error("failed to listen")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := wire.New(b, store, entry)
	entry.WithField("address", cfg.ListenAddress).Info("taskbrokerd listening")

	if err := server.Serve(ctx, listener); err != nil {
		entry.WithError(err).Error("server stopped with error")
		return 1
	}

	entry.Info("taskbrokerd shut down cleanly")
	return 0
}
