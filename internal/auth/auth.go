// Package auth implements the external-authenticator seam spec.md §6
// describes: "validation is delegated to an external authenticator
// component" with two operations, validate and principal_for_sync. It is
// grounded on kagent's internal/httpserver/auth package (Authenticator
// interface, UnsecureAuthenticator passthrough implementation) generalized
// from k8s-namespaced agent/user principals to the fabric's bearer-token
// and peer-shared-secret model.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

// Principal is who a validated credential resolved to.
type Principal struct {
	AgentID string
	Roles   []string
	Scopes  []string
}

// Authenticator is the seam spec.md §6 names: validate(token, scope) and
// principal_for_sync(peer_id, shared_secret).
type Authenticator interface {
	Validate(ctx context.Context, token, requiredScope string) (Principal, error)
	PrincipalForSync(ctx context.Context, peerID, sharedSecret string) (machineID string, err error)
}

// hasScope reports whether scopes contains required, treating an empty
// required scope as always satisfied.
func hasScope(scopes []string, required string) bool {
	if required == "" {
		return true
	}
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}

// BearerTokenAuthenticator validates against a static token->Principal
// table (e.g. loaded from config), mirroring kagent's
// UnsecureAuthenticator shape but requiring an exact token match instead
// of trusting a caller-supplied header unconditionally.
type BearerTokenAuthenticator struct {
	tokens map[string]Principal
}

func NewBearerTokenAuthenticator(tokens map[string]Principal) *BearerTokenAuthenticator {
	return &BearerTokenAuthenticator{tokens: tokens}
}

func (a *BearerTokenAuthenticator) Validate(ctx context.Context, token, requiredScope string) (Principal, error) {
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, model.NewFault(model.FaultUnauthorized, "unknown token", nil)
	}
	if !hasScope(p.Scopes, requiredScope) {
		return Principal{}, model.NewFault(model.FaultForbidden, requiredScope, nil)
	}
	return p, nil
}

func (a *BearerTokenAuthenticator) PrincipalForSync(ctx context.Context, peerID, sharedSecret string) (string, error) {
	return "", model.NewFault(model.FaultForbidden, "bearer authenticator does not serve sync peers", nil)
}

// SharedSecretAuthenticator validates per-peer sync credentials: each
// configured peer has its own shared secret, compared in constant time so
// a mistimed response can't leak which prefix matched (spec.md §6's
// principal_for_sync path, used only by C7's peer handshake).
type SharedSecretAuthenticator struct {
	peerSecrets map[string]string // peerID -> secret
}

func NewSharedSecretAuthenticator(peerSecrets map[string]string) *SharedSecretAuthenticator {
	return &SharedSecretAuthenticator{peerSecrets: peerSecrets}
}

func (a *SharedSecretAuthenticator) Validate(ctx context.Context, token, requiredScope string) (Principal, error) {
	return Principal{}, model.NewFault(model.FaultForbidden, "shared-secret authenticator does not serve bearer tokens", nil)
}

func (a *SharedSecretAuthenticator) PrincipalForSync(ctx context.Context, peerID, sharedSecret string) (string, error) {
	want, ok := a.peerSecrets[peerID]
	if !ok {
		return "", model.NewFault(model.FaultUnauthorized, peerID, nil)
	}
	if !constantTimeEqual(want, sharedSecret) {
		return "", model.NewFault(model.FaultUnauthorized, peerID, nil)
	}
	return peerID, nil
}

func constantTimeEqual(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return hmac.Equal(ha[:], hb[:])
}
