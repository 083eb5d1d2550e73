package main

import (
	"fmt"
	"os"

	"agent-payments/config"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/merchantsvc"
	"agent-payments/internal/server"
	"agent-payments/pkg/logger"
)

const merchantDID = "did:ap2:merchant:merchant_service"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("merchant-service", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Int("port", cfg.Server.Port).
		Bool("auto_sign", cfg.Merchant.AutoSign()).
		Msg("Starting merchant service")

	store := keys.NewStore(cfg.Keys.Directory)
	key, err := store.LoadOrCreate("merchant", cfg.Keys.Passphrase("merchant"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load merchant signing key")
	}
	doc, err := did.NewDocument(merchantDID, key.Public())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build DID document")
	}

	svc := merchantsvc.New(merchantDID, key, cfg.Merchant.AutoSign(), log)
	router := merchantsvc.Router(merchantsvc.NewHandler(svc, doc), log)

	server.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, log)
}
