package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/devserver"
	"github.com/matheus3301/paperchat/internal/logging"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading .env: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", envOr("PAPERCHAT_DEV_ADDR", ":5000"), "listen address")
	users := flag.String("users", os.Getenv("PAPERCHAT_DEV_USERS"), "seed users as id:name pairs separated by commas")
	level := flag.String("log-level", envOr("PAPERCHAT_LOG_LEVEL", "info"), "log level")
	flag.Parse()

	lvl, err := logging.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	seed, err := parseUsers(*users)
	if err != nil {
		logger.Fatal("invalid seed users", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := devserver.New(logger, seed...).ListenAndServe(ctx, *addr); err != nil {
		logger.Fatal("dev server failed", zap.Error(err))
	}
	logger.Info("dev server stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseUsers(list string) ([]chat.User, error) {
	var users []chat.User
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, _ := strings.Cut(pair, ":")
		if id == "" {
			return nil, fmt.Errorf("user %q has no id", pair)
		}
		if name == "" {
			name = id
		}
		users = append(users, chat.User{ID: id, Name: name})
	}
	return users, nil
}
