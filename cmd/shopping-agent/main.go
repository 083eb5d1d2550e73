package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"agent-payments/config"
	"agent-payments/internal/a2a"
	"agent-payments/internal/did"
	"agent-payments/internal/keys"
	"agent-payments/internal/server"
	"agent-payments/internal/shoppingagent"
	"agent-payments/internal/webauthn"
	"agent-payments/pkg/logger"
)

const (
	agentDID     = "did:ap2:agent:shopping_agent"
	merchantDID  = "did:ap2:agent:merchant_agent"
	processorDID = "did:ap2:agent:payment_processor"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("shopping-agent", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Int("port", cfg.Server.Port).Msg("Starting shopping agent")

	store := keys.NewStore(cfg.Keys.Directory)
	key, err := store.LoadOrCreate("shopping_agent", cfg.Keys.Passphrase("shopping_agent"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent signing key")
	}
	doc, err := did.NewDocument(agentDID, key.Public())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build DID document")
	}

	client := a2a.NewClient(&http.Client{Timeout: 5 * time.Minute}, agentDID, key)
	resolver := did.NewResolver(cfg.Keys.DIDDataDir(), cfg.Peers, log)
	resolver.Register(doc)
	client.SetVerifier(&a2a.Verifier{Resolver: resolver, Replay: a2a.NewMemoryReplayCache()})
	merchant := shoppingagent.NewA2AMerchantClient(client, cfg.Peers.MerchantAgent, merchantDID)
	proc := shoppingagent.NewA2AProcessorClient(client, cfg.Peers.PaymentProcessor, processorDID)
	creds := shoppingagent.NewHTTPCredentialClient(cfg.Peers.CredentialProvider, nil)

	svc := shoppingagent.New(merchant, proc, creds, log)

	if user := os.Getenv("AP2_DEMO_USER"); user != "" {
		registerDemoWallet(cfg, svc, store, user, log)
	}

	router := shoppingagent.Router(shoppingagent.NewHandler(svc, doc), log)
	server.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), router, log)
}

// registerDemoWallet provisions a software wallet for the named user and
// enrolls it with the credential provider. Demo deployments only: real
// wallets hold hardware-backed keys the agent never sees.
func registerDemoWallet(cfg *config.Config, svc *shoppingagent.Service, store *keys.Store, user string, log zerolog.Logger) {
	userKey, err := store.LoadOrCreate("user_"+user, cfg.Keys.Passphrase("user_"+user))
	if err != nil {
		log.Fatal().Err(err).Str("user", user).Msg("Failed to load demo user key")
	}
	device, err := webauthn.NewDevice(cfg.WebAuthn.RPID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create software passkey")
	}

	wallet := &shoppingagent.Wallet{
		UserDID: "did:ap2:user:" + user,
		Key:     userKey,
		Device:  device,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := shoppingagent.Onboard(ctx, nil, cfg.Peers.CredentialProvider, user, "visa", wallet); err != nil {
		// The provider may not be up yet; the wallet still works for
		// sessions that enroll later.
		log.Warn().Err(err).Str("user", user).Msg("Credential provider onboarding failed")
	}

	svc.RegisterWallet(user, wallet)
	log.Info().Str("user", user).Msg("Demo wallet registered")
}
