package http

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

// clientSecretTTL is the lifetime of every secret issued through
// POST /chatkit/sessions; the request cannot change it.
const clientSecretTTL = 10 * time.Minute

// inmemSecretIssuer validates a fixed set of API keys and tracks the
// client secrets it has issued, expiring them on lookup.
type inmemSecretIssuer struct {
	mu      sync.Mutex
	apiKeys map[string]bool
	issued  map[string]time.Time
}

// NewSecretIssuer returns a SecretIssuer that accepts the given API keys and
// tracks client secrets it issues itself.
func NewSecretIssuer(apiKeys ...string) SecretIssuer {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = true
	}
	return &inmemSecretIssuer{apiKeys: keys, issued: make(map[string]time.Time)}
}

func (i *inmemSecretIssuer) ValidAPIKey(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.apiKeys[key]
}

func (i *inmemSecretIssuer) Issue(ttl time.Duration) ClientSecret {
	if ttl <= 0 {
		ttl = clientSecretTTL
	}
	token := clientSecretPrefix + randomHex(16)
	expiresAt := time.Now().Add(ttl)

	i.mu.Lock()
	i.issued[token] = expiresAt
	i.mu.Unlock()

	return ClientSecret{Token: token, ExpiresAt: expiresAt}
}

func (i *inmemSecretIssuer) ValidClientSecret(token string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	expiresAt, ok := i.issued[token]
	if !ok {
		return false
	}
	if time.Now().After(expiresAt) {
		delete(i.issued, token)
		return false
	}
	return true
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

type clientSecretResponse struct {
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// handleCreateClientSecret issues a short-lived client secret (spec §6:
// "Client secrets are issued via POST /chatkit/sessions and carry an
// expiry").
func (s *Server) handleCreateClientSecret(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auth == nil {
		writeError(w, http.StatusNotImplemented, "authentication is disabled")
		return
	}
	secret := s.deps.Auth.Issue(clientSecretTTL)
	writeJSON(w, http.StatusCreated, clientSecretResponse{
		ClientSecret: secret.Token,
		ExpiresAt:    secret.ExpiresAt,
	})
}
