package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lancejames221b/agent-hivemind-sub002/internal/model"
)

func TestBearerTokenAuthenticatorValidatesKnownToken(t *testing.T) {
	a := NewBearerTokenAuthenticator(map[string]Principal{
		"tok-1": {AgentID: "agent-1", Scopes: []string{"write"}},
	})
	p, err := a.Validate(context.Background(), "tok-1", "write")
	require.NoError(t, err)
	require.Equal(t, "agent-1", p.AgentID)
}

func TestBearerTokenAuthenticatorRejectsUnknownToken(t *testing.T) {
	a := NewBearerTokenAuthenticator(map[string]Principal{})
	_, err := a.Validate(context.Background(), "missing", "")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultUnauthorized, f.Kind)
}

func TestBearerTokenAuthenticatorRejectsMissingScope(t *testing.T) {
	a := NewBearerTokenAuthenticator(map[string]Principal{
		"tok-1": {AgentID: "agent-1", Scopes: []string{"read"}},
	})
	_, err := a.Validate(context.Background(), "tok-1", "write")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultForbidden, f.Kind)
}

func TestSharedSecretAuthenticatorValidatesMatchingSecret(t *testing.T) {
	a := NewSharedSecretAuthenticator(map[string]string{"peer-a": "s3cret"})
	machineID, err := a.PrincipalForSync(context.Background(), "peer-a", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "peer-a", machineID)
}

func TestSharedSecretAuthenticatorRejectsWrongSecret(t *testing.T) {
	a := NewSharedSecretAuthenticator(map[string]string{"peer-a": "s3cret"})
	_, err := a.PrincipalForSync(context.Background(), "peer-a", "wrong")
	f, ok := model.AsFault(err)
	require.True(t, ok)
	require.Equal(t, model.FaultUnauthorized, f.Kind)
}
