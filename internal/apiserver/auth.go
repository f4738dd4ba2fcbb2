// Package apiserver exposes the engine's core operations over HTTP
// (§6): thin gin handlers that resolve a user and an Authenticator
// identity, then delegate straight into the already-governed services
// (consent.Gate, looprunner.Service, evaluation.Service, and the rest)
// rather than re-implementing any business rule at the transport layer.
//
// Grounded on
// pkg/extensions/auth.go's AuthProvider/AuthInfo/NopAuthProvider
// (the pluggable-identity-with-a-local-default shape) and
// services/trace/handlers.go's Handlers/HandleInit bind-validate-dispatch
// pattern.
package apiserver

import "context"

// AuthInfo is the resolved identity of an authenticated request. UserID
// is the only field this engine's domain model needs — unlike the
// teacher's RBAC-flavored AuthInfo, there is no role concept here, only
// per-user consent (internal/consent.Gate), so Roles/Metadata are not
// carried over.
type AuthInfo struct {
	UserID string
}

// Authenticator validates a bearer token and resolves it to a user
// identity. Implementations must be safe for concurrent use.
//
// The default NopAuthenticator accepts any token (including an empty
// one) and resolves to a fixed local user, matching the teacher's
// NopAuthProvider: local single-user deployments need no identity
// provider wired in to function. A deployment that requires real
// authentication supplies its own Authenticator (OAuth/JWT/session
// validation against an identity provider) — that integration is out of
// scope here (§6 "request auth/OAuth/JWT issuance are out of scope").
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (AuthInfo, error)
}

// NopAuthenticator is the default, no-op Authenticator: every request
// authenticates as the same local user regardless of token value.
type NopAuthenticator struct {
	User string
}

// NewNopAuthenticator builds a NopAuthenticator resolving every request
// to user. An empty user defaults to "local-user"; Authenticate returns
// User as stored.
func NewNopAuthenticator(user string) NopAuthenticator {
	if user == "" {
		user = "local-user"
	}
	return NopAuthenticator{User: user}
}

// Authenticate always succeeds; the token is ignored.
func (a NopAuthenticator) Authenticate(_ context.Context, _ string) (AuthInfo, error) {
	return AuthInfo{UserID: a.User}, nil
}
