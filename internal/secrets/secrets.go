// Package secrets resolves credential references in notification channel
// settings and bot tokens. A value such as "env://SLACK_TOKEN" or
// "vault://secret/data/hr/slack#token" is replaced with the secret it names
// just before a message is sent, so channel rows never hold raw credentials.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Provider resolves references of one scheme.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Scheme is the reference prefix handled, without "://" (e.g. "env").
	Scheme() string
	// Resolve returns the raw secret named by ref, without its scheme prefix.
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolver routes references to the provider registered for their scheme.
// Values without a registered scheme are returned unchanged.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a Resolver. The env provider is always registered.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: map[string]Provider{"env": envProvider{}}}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// IsReference reports whether value names a secret of a registered scheme.
func (r *Resolver) IsReference(value string) bool {
	_, _, ok := r.split(value)
	return ok
}

// Resolve returns the secret named by value, or value itself when it is not
// a reference. A nil Resolver returns value unchanged.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if r == nil {
		return value, nil
	}
	p, ref, ok := r.split(value)
	if !ok {
		return value, nil
	}
	secret, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolving %s reference: %w", p.Scheme(), err)
	}
	return secret, nil
}

// ResolveConfig returns a copy of settings with every reference resolved.
// The input map is never modified.
func (r *Resolver) ResolveConfig(ctx context.Context, settings map[string]string) (map[string]string, error) {
	out := maps.Clone(settings)
	if r == nil {
		return out, nil
	}
	for k, v := range out {
		resolved, err := r.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) split(value string) (Provider, string, bool) {
	scheme, ref, ok := strings.Cut(value, "://")
	if !ok {
		return nil, "", false
	}
	p, ok := r.providers[scheme]
	return p, ref, ok
}

// envProvider reads "env://VARIABLE_NAME".
type envProvider struct{}

func (envProvider) Scheme() string { return "env" }

func (envProvider) Resolve(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty environment variable name", ErrSecretNotFound)
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: environment variable %q is not set or empty", ErrSecretNotFound, name)
	}
	return value, nil
}
