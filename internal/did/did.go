// Package did resolves did:ap2 identifiers to public keys.
//
// Resolution order: in-process cache, then the local registry seeded from
// DID document files, then an HTTP fetch of the peer's /.well-known/did.json.
// HTTP failures are swallowed; an unresolvable DID surfaces as a nil
// document and callers report KeyNotFound.
package did

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agent-payments/internal/keys"

	"github.com/rs/zerolog"
)

// DID is a parsed did:ap2:<role>:<name> identifier.
type DID struct {
	Role string // agent, merchant, cp, user
	Name string
}

// String reassembles the DID.
func (d DID) String() string {
	return "did:ap2:" + d.Role + ":" + d.Name
}

// Parse splits a did:ap2 identifier, rejecting other methods.
func Parse(s string) (DID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "did" || parts[1] != "ap2" {
		return DID{}, fmt.Errorf("not a did:ap2 identifier: %q", s)
	}
	if parts[2] == "" || parts[3] == "" {
		return DID{}, fmt.Errorf("empty role or name in %q", s)
	}
	return DID{Role: parts[2], Name: parts[3]}, nil
}

// VerificationMethod carries one public key of a DID subject.
type VerificationMethod struct {
	ID           string `json:"id"` // <did>#key-1
	Type         string `json:"type"`
	Controller   string `json:"controller"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

// Document is the resolved DID document.
type Document struct {
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
}

// Method returns the verification method whose id ends with fragment, or nil.
func (doc *Document) Method(fragment string) *VerificationMethod {
	for i := range doc.VerificationMethod {
		if strings.HasSuffix(doc.VerificationMethod[i].ID, "#"+fragment) {
			return &doc.VerificationMethod[i]
		}
	}
	return nil
}

// PeerDirectory maps a DID name to a base URL for the HTTP fallback.
type PeerDirectory interface {
	ByRole(name string) string
}

// Resolver resolves DIDs against a cache, a seeded file registry, and peers.
type Resolver struct {
	mu      sync.RWMutex
	cache   map[string]*Document
	dataDir string
	peers   PeerDirectory
	client  *http.Client
	log     zerolog.Logger
}

// NewResolver creates a resolver. dataDir holds <name>_did.json seed files;
// peers may be nil to disable the HTTP fallback.
func NewResolver(dataDir string, peers PeerDirectory, log zerolog.Logger) *Resolver {
	return &Resolver{
		cache:   make(map[string]*Document),
		dataDir: dataDir,
		peers:   peers,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// Register inserts a document directly into the cache. Services register
// their own identity at startup so self-resolution never leaves the process.
func (r *Resolver) Register(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[doc.ID] = doc
}

// Resolve returns the document for a DID, or (nil, nil) when no source
// knows it.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Document, error) {
	parsed, err := Parse(id)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	doc, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return doc, nil
	}

	if doc := r.fromRegistry(parsed); doc != nil {
		r.Register(doc)
		return doc, nil
	}

	if doc := r.fromWellKnown(ctx, parsed); doc != nil {
		r.Register(doc)
		return doc, nil
	}

	return nil, nil
}

// ResolvePublicKey resolves a <did>#<fragment> key id to a parsed public key.
func (r *Resolver) ResolvePublicKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	id, fragment, found := strings.Cut(kid, "#")
	if !found {
		return nil, fmt.Errorf("key id %q has no fragment", kid)
	}
	doc, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	vm := doc.Method(fragment)
	if vm == nil {
		return nil, nil
	}
	return keys.ParsePublicPEM([]byte(vm.PublicKeyPEM))
}

func (r *Resolver) fromRegistry(id DID) *Document {
	if r.dataDir == "" {
		return nil
	}
	path := filepath.Join(r.dataDir, id.Name+"_did.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("malformed DID document in registry")
		return nil
	}
	if doc.ID != id.String() {
		r.log.Warn().Str("path", path).Str("doc_id", doc.ID).Msg("DID document id does not match file name")
		return nil
	}
	return &doc
}

func (r *Resolver) fromWellKnown(ctx context.Context, id DID) *Document {
	if r.peers == nil {
		return nil
	}
	base := r.peers.ByRole(id.Name)
	if base == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/.well-known/did.json", nil)
	if err != nil {
		return nil
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("did", id.String()).Msg("well-known DID fetch failed")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil
	}
	if doc.ID != id.String() {
		return nil
	}
	return &doc
}

// NewDocument builds a single-key DID document for a service identity.
func NewDocument(id string, pub crypto.PublicKey) (*Document, error) {
	pemBytes, err := keys.MarshalPublicPEM(pub)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID: id,
		VerificationMethod: []VerificationMethod{{
			ID:           id + "#key-1",
			Type:         "JsonWebKey2020",
			Controller:   id,
			PublicKeyPEM: string(pemBytes),
		}},
	}, nil
}
