package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	passkeycmd "github.com/chartfold/passkey/internal/cmd/passkey"
)

func main() {
	cfg, err := passkeycmd.ParseConfig(flag.CommandLine, os.Args[1:], func(key string) (string, bool) {
		value, ok := os.LookupEnv(key)
		return value, ok
	})
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PASSKEY] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := passkeycmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
