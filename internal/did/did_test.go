package did

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"agent-payments/internal/keys"
	"agent-payments/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() zerolog.Logger { return logger.NewWithWriter("did-test", "error", os.Stderr) }

func TestParse(t *testing.T) {
	id, err := Parse("did:ap2:merchant:acme")
	require.NoError(t, err)
	assert.Equal(t, "merchant", id.Role)
	assert.Equal(t, "acme", id.Name)
	assert.Equal(t, "did:ap2:merchant:acme", id.String())

	for _, bad := range []string{"", "did:web:example.com", "did:ap2:merchant", "did:ap2::acme", "not-a-did"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolver_CacheViaRegister(t *testing.T) {
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := NewDocument("did:ap2:agent:shopping_agent", key.Public())
	require.NoError(t, err)

	r := NewResolver("", nil, testLog())
	r.Register(doc)

	got, err := r.Resolve(context.Background(), "did:ap2:agent:shopping_agent")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)
}

func TestResolver_LocalRegistryFile(t *testing.T) {
	dir := t.TempDir()
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := NewDocument("did:ap2:merchant:acme", key.Public())
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme_did.json"), data, 0o644))

	r := NewResolver(dir, nil, testLog())
	got, err := r.Resolve(context.Background(), "did:ap2:merchant:acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "did:ap2:merchant:acme", got.ID)
}

type peerMap map[string]string

func (p peerMap) ByRole(name string) string { return p[name] }

func TestResolver_WellKnownFallback(t *testing.T) {
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := NewDocument("did:ap2:agent:payment_processor", key.Public())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/.well-known/did.json", req.URL.Path)
		_ = json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	r := NewResolver("", peerMap{"payment_processor": srv.URL}, testLog())
	got, err := r.Resolve(context.Background(), "did:ap2:agent:payment_processor")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)

	// Second resolve hits the cache; shut the server to prove it.
	srv.Close()
	got, err = r.Resolve(context.Background(), "did:ap2:agent:payment_processor")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestResolver_HTTPFailureSwallowed(t *testing.T) {
	r := NewResolver("", peerMap{"gone": "http://127.0.0.1:1"}, testLog())
	got, err := r.Resolve(context.Background(), "did:ap2:agent:gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolver_UnknownDID(t *testing.T) {
	r := NewResolver("", nil, testLog())
	got, err := r.Resolve(context.Background(), "did:ap2:agent:nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolvePublicKey(t *testing.T) {
	key, err := keys.GenerateP256()
	require.NoError(t, err)
	doc, err := NewDocument("did:ap2:merchant:acme", key.Public())
	require.NoError(t, err)

	r := NewResolver("", nil, testLog())
	r.Register(doc)

	pub, err := r.ResolvePublicKey(context.Background(), "did:ap2:merchant:acme#key-1")
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.True(t, pub.(*ecdsa.PublicKey).Equal(key.Public()))

	// Unknown fragment
	pub, err = r.ResolvePublicKey(context.Background(), "did:ap2:merchant:acme#key-9")
	require.NoError(t, err)
	assert.Nil(t, pub)

	// Missing fragment
	_, err = r.ResolvePublicKey(context.Background(), "did:ap2:merchant:acme")
	assert.Error(t, err)
}

func TestDocument_Method(t *testing.T) {
	doc := &Document{
		ID: "did:ap2:user:alice",
		VerificationMethod: []VerificationMethod{
			{ID: "did:ap2:user:alice#key-1"},
			{ID: "did:ap2:user:alice#key-2"},
		},
	}
	require.NotNil(t, doc.Method("key-2"))
	assert.Nil(t, doc.Method("key-3"))
}
