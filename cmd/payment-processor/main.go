package main

import (
	"context"
	"fmt"
	"os"

	"agent-payments/config"
	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/processor"
	"agent-payments/internal/server"
	pgStorage "agent-payments/internal/storage/postgres"
	redisStorage "agent-payments/internal/storage/redis"
	"agent-payments/pkg/logger"
)

const processorDID = "did:ap2:agent:payment_processor"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("payment-processor", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Int("port", cfg.Server.Port).Msg("Starting payment processor")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	store := keys.NewStore(cfg.Keys.Directory)
	key, err := store.LoadOrCreate("payment_processor", cfg.Keys.Passphrase("payment_processor"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load processor signing key")
	}
	doc, err := did.NewDocument(processorDID, key.Public())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build DID document")
	}

	resolver := did.NewResolver(cfg.Keys.DIDDataDir(), cfg.Peers, log)
	resolver.Register(doc)

	base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	if v := os.Getenv("AP2_PUBLIC_BASE_URL"); v != "" {
		base = v
	}

	svc := processor.New(processor.Deps{
		Resolver:   resolver,
		JTIs:       redisStorage.NewReplayStore(rdb, "jti:"),
		Challenges: redisStorage.NewChallengeStore(rdb),
		Counters:   redisStorage.NewCounterStore(rdb),
		Repo:       pgStorage.NewTransactionRepo(pool),
		Creds:      processor.NewHTTPCredentialClient(cfg.Peers.CredentialProvider, nil),
		Net:        processor.NewHTTPNetworkClient(cfg.Peers.PaymentNetwork, nil),
		RPID:       cfg.WebAuthn.RPID,
		BaseURL:    base,
		Checks: []processor.Check{
			pgStorage.NewHealthCheck(pool),
			redisStorage.NewHealthCheck(rdb),
		},
	}, log)

	verifier := &a2a.Verifier{
		Resolver: resolver,
		Replay:   redisStorage.NewReplayStore(rdb, "a2a:"),
	}
	registry := a2a.NewRegistry(verifier, processorDID, key, log)
	router := processor.Router(processor.NewHandler(svc, registry, doc), log)

	server.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, log)
}
