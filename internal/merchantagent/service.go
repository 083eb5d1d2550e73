// Package merchantagent plans carts against an intent and shepherds them
// through merchant signing. It speaks A2A to the shopping agent and REST
// to the merchant signing service.
package merchantagent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agent-payments/internal/mandate"
	"agent-payments/internal/merchantsvc"
	"agent-payments/pkg/apperror"
)

// Polling parameters for the sign fan-out. The cap stays strictly below
// the shopping agent's 300 s wait so the agent always answers in time.
const (
	defaultPollInterval = 5 * time.Second
	defaultPollCap      = 270 * time.Second
)

// Artifact is one signed cart candidate returned to the shopping agent.
// Artifacts are an unordered bag keyed by artifactId.
type Artifact struct {
	ArtifactID  string               `json:"artifactId"`
	Name        string               `json:"name"`
	CartMandate *mandate.CartMandate `json:"cart_mandate"`
}

// Service is the merchant agent pipeline.
type Service struct {
	merchantDID  string
	merchantName string
	analyzer     Analyzer
	catalog      *Catalog
	signer       Signer
	log          zerolog.Logger

	pollInterval time.Duration
	pollCap      time.Duration
	now          func() time.Time
}

// New creates the merchant agent service.
func New(merchantDID, merchantName string, catalog *Catalog, signer Signer, log zerolog.Logger) *Service {
	return &Service{
		merchantDID:  merchantDID,
		merchantName: merchantName,
		analyzer:     RuleAnalyzer{},
		catalog:      catalog,
		signer:       signer,
		log:          log,
		pollInterval: defaultPollInterval,
		pollCap:      defaultPollCap,
		now:          time.Now,
	}
}

// SetPollTimings overrides the pending-cart poll cadence. Zero values
// keep the current settings.
func (s *Service) SetPollTimings(interval, cap time.Duration) {
	if interval > 0 {
		s.pollInterval = interval
	}
	if cap > 0 {
		s.pollCap = cap
	}
}

// HandleIntent runs the full pipeline: analyse, search, check stock,
// plan, build mandates, and await signatures concurrently. It returns the
// signed subset in the order signing finished — possibly empty, never a
// partial unsigned cart.
func (s *Service) HandleIntent(ctx context.Context, im *mandate.IntentMandate) ([]Artifact, error) {
	if err := mandate.ValidateIntentMandate(im); err != nil {
		return nil, apperror.ErrMalformedMandate(err.Error())
	}

	keywords := s.analyzer.Keywords(im.NaturalLanguageDescription)
	products := s.catalog.Search(keywords, "", searchLimit)

	// Drop out-of-stock items before planning.
	skus := make([]string, len(products))
	for i, p := range products {
		skus[i] = p.SKU
	}
	stock := s.catalog.InStock(skus)
	inStock := products[:0:0]
	for _, p := range products {
		if stock[p.SKU] > 0 {
			inStock = append(inStock, p)
		}
	}

	var constraint *mandate.IntentConstraint
	if im.Constraints != nil {
		constraint = im.Constraints
	}
	plans := PlanCarts(inStock, constraint)
	if len(plans) == 0 {
		s.log.Info().Str("intent_id", im.ID).Strs("keywords", keywords).Msg("no viable cart plans")
		return nil, nil
	}

	carts := make([]*mandate.CartMandate, len(plans))
	for i, pl := range plans {
		carts[i] = BuildCartMandate(pl, s.merchantDID, s.merchantName, im.ID, s.now())
	}

	return s.awaitSignatures(ctx, plans, carts), nil
}

// awaitSignatures issues all sign requests in parallel. Pending carts
// poll at the configured interval under the shared cap. Each cart
// proceeds independently; only signed carts come back.
func (s *Service) awaitSignatures(ctx context.Context, plans []CartPlan, carts []*mandate.CartMandate) []Artifact {
	ctx, cancel := context.WithTimeout(ctx, s.pollCap)
	defer cancel()

	results := make(chan Artifact, len(carts))
	var wg sync.WaitGroup
	for i := range carts {
		wg.Add(1)
		go func(name string, cm *mandate.CartMandate) {
			defer wg.Done()
			signed := s.signOne(ctx, cm)
			if signed != nil {
				results <- Artifact{
					ArtifactID:  "artifact_" + uuid.NewString()[:8],
					Name:        name,
					CartMandate: signed,
				}
			}
		}(plans[i].Name, carts[i])
	}
	wg.Wait()
	close(results)

	var artifacts []Artifact
	for a := range results {
		artifacts = append(artifacts, a)
	}
	return artifacts
}

func (s *Service) signOne(ctx context.Context, cm *mandate.CartMandate) *mandate.CartMandate {
	res, err := s.signer.SignCart(ctx, cm)
	if err != nil {
		s.log.Warn().Err(err).Str("cart_id", cm.Contents.ID).Msg("sign request failed")
		return nil
	}
	switch res.Status {
	case merchantsvc.StatusSigned:
		return res.SignedCart
	case merchantsvc.StatusPending:
		return s.pollUntilSigned(ctx, cm.Contents.ID)
	default:
		s.log.Info().Str("cart_id", cm.Contents.ID).Str("status", res.Status).Msg("cart not signed")
		return nil
	}
}

func (s *Service) pollUntilSigned(ctx context.Context, cartID string) *mandate.CartMandate {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Str("cart_id", cartID).Msg("sign poll timed out")
			return nil
		case <-ticker.C:
			res, err := s.signer.PollCart(ctx, cartID)
			if err != nil {
				s.log.Warn().Err(err).Str("cart_id", cartID).Msg("sign poll failed")
				continue
			}
			switch res.Status {
			case merchantsvc.StatusSigned:
				return res.SignedCart
			case merchantsvc.StatusRejected, merchantsvc.StatusExpired:
				s.log.Info().Str("cart_id", cartID).Str("status", res.Status).Msg("cart will not sign")
				return nil
			}
		}
	}
}
