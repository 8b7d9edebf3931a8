package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/node"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "cmd/tracectl/config.toml", "path to node config")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "tracectl: load .env: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime()

	cfg := node.DefaultServiceConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		logging.Warnf("tracectl config not found path=%q using defaults", *configPath)
	}
	if err := applyEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		os.Exit(1)
	}

	svc := node.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tracectl: %v\n", err)
		os.Exit(1)
	}
}
