package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// VaultConfig configures the HashiCorp Vault KV v2 provider.
type VaultConfig struct {
	Address         string `json:"address" yaml:"address"`                         // Override: VAULT_ADDR.
	Token           string `json:"token,omitempty" yaml:"token,omitempty"`         // Override: VAULT_TOKEN.
	Namespace       string `json:"namespace,omitempty" yaml:"namespace,omitempty"` // Override: VAULT_NAMESPACE.
	TimeoutSeconds  int    `json:"timeout_s" yaml:"timeout_s"`                     // Default: 5
	CacheTTLSeconds int    `json:"cache_ttl_s" yaml:"cache_ttl_s"`                 // Default: 300. Negative disables caching.
	TLSSkipVerify   bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

const (
	defaultVaultTimeout  = 5 * time.Second
	defaultVaultCacheTTL = 5 * time.Minute
)

// VaultProvider reads "vault://<kv v2 api path>#<field>", for example
// "vault://secret/data/hr/slack#bot_token". The field selector is required
// since channel settings are single strings.
//
// Escalations send the same channel credentials over and over, so resolved
// paths are cached for CacheTTLSeconds.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
	ttl       time.Duration
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]vaultEntry
}

type vaultEntry struct {
	data     map[string]any
	loadedAt time.Time
}

// NewVaultProvider creates a provider. Environment variables win over cfg.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	address := envOr("VAULT_ADDR", cfg.Address)
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set secrets.vault.address or VAULT_ADDR)")
	}
	token := envOr("VAULT_TOKEN", cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}

	timeout := defaultVaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ttl := defaultVaultCacheTTL
	switch {
	case cfg.CacheTTLSeconds > 0:
		ttl = time.Duration(cfg.CacheTTLSeconds) * time.Second
	case cfg.CacheTTLSeconds < 0:
		ttl = 0
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   strings.TrimRight(address, "/"),
		token:     token,
		namespace: envOr("VAULT_NAMESPACE", cfg.Namespace),
		client:    &http.Client{Timeout: timeout, Transport: transport},
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]vaultEntry),
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	path, field, _ := strings.Cut(ref, "#")
	if path == "" {
		return "", fmt.Errorf("%w: empty vault path", ErrSecretNotFound)
	}
	if field == "" {
		return "", fmt.Errorf("%w: vault reference %q needs a #field selector", ErrSecretNotFound, ref)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q not found in vault path %q", ErrSecretNotFound, field, path)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("vault field %q in path %q is not a string", field, path)
	}
	return str, nil
}

// read returns the KV data at path, from cache when fresh.
func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	if p.ttl > 0 {
		p.mu.Lock()
		e, ok := p.cache[path]
		p.mu.Unlock()
		if ok && p.now().Sub(e.loadedAt) < p.ttl {
			return e.data, nil
		}
	}

	data, err := p.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.ttl > 0 {
		p.mu.Lock()
		p.cache[path] = vaultEntry{data: data, loadedAt: p.now()}
		p.mu.Unlock()
	}
	return data, nil
}

func (p *VaultProvider) fetch(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.address+"/v1/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: {"data": {"data": {...}, "metadata": {...}}}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}
	if envelope.Data.Data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}
	return envelope.Data.Data, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
