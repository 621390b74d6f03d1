package main

import (
	"context"
	"flag"
	"log"
	"syscall"

	"github.com/kiesh/exchange-core/internal/app"
	"github.com/kiesh/exchange-core/internal/config"
	"github.com/kiesh/exchange-core/internal/infra/closer"
)

func main() {
	configPath := flag.String("config", "", "optional config file, env vars take precedence")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	application, err := app.New(ctx, *cfg)
	if err != nil {
		log.Fatal(err)
	}

	closer.Configure(syscall.SIGINT, syscall.SIGTERM)

	if err := application.Start(ctx); err != nil {
		log.Fatal(err)
	}

	if err := closer.CloseAll(ctx); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadEnv()
	}
	return config.Load(path)
}
