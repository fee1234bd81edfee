package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"helipad-ng/internal/config"
	"helipad-ng/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./helipad.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("helipad-ng starting config=%s", configPath)
	if err := run(ctx, cfg, configPath, logs); err != nil {
		log.Fatalf("helipad-ng failed: %v", err)
	}
	log.Printf("helipad-ng stopped")
}
