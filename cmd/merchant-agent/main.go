package main

import (
	"fmt"
	"os"

	"agent-payments/config"
	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/merchantagent"
	"agent-payments/internal/server"
	"agent-payments/pkg/logger"
)

const (
	agentDID = "did:ap2:agent:merchant_agent"
	// The merchant service signs carts under its own DID; the agent only
	// plans them.
	merchantDID  = "did:ap2:merchant:merchant_service"
	merchantName = "Acme Sports"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("merchant-agent", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Int("port", cfg.Server.Port).Msg("Starting merchant agent")

	store := keys.NewStore(cfg.Keys.Directory)
	key, err := store.LoadOrCreate("merchant_agent", cfg.Keys.Passphrase("merchant_agent"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent signing key")
	}
	doc, err := did.NewDocument(agentDID, key.Public())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build DID document")
	}

	resolver := did.NewResolver(cfg.Keys.DIDDataDir(), cfg.Peers, log)
	resolver.Register(doc)

	verifier := &a2a.Verifier{Resolver: resolver, Replay: a2a.NewMemoryReplayCache()}
	registry := a2a.NewRegistry(verifier, agentDID, key, log)

	signer := merchantagent.NewHTTPSigner(cfg.Peers.MerchantService, nil)
	svc := merchantagent.New(merchantDID, merchantName, merchantagent.NewCatalog(), signer, log)
	router := merchantagent.Router(merchantagent.NewHandler(svc, registry, doc), log)

	server.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, log)
}
