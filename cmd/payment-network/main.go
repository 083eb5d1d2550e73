package main

import (
	"context"
	"fmt"
	"os"

	"agent-payments/config"
	"agent-payments/internal/network"
	"agent-payments/internal/server"
	redisStorage "agent-payments/internal/storage/redis"
	"agent-payments/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("payment-network", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Int("port", cfg.Server.Port).Msg("Starting payment network")

	rdb, err := redisStorage.NewClient(context.Background(), cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	svc := network.New("agentnet", redisStorage.NewTokenStore(rdb), log)
	router := network.Router(network.NewHandler(svc), log)

	server.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, log)
}
