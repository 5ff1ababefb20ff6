package sla

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RuleStore loads organization-specific SLA overrides.
type RuleStore interface {
	ListRules(ctx context.Context, orgID string) ([]Rule, error)
	UpsertRule(ctx context.Context, orgID string, rule Rule) error
}

// DefaultCacheTTL is how long an organization's rules are served from memory.
const DefaultCacheTTL = 5 * time.Minute

// RuleProvider caches organization rules per org for a fixed TTL.
// A nil *RuleProvider is valid and always returns no overrides.
type RuleProvider struct {
	store  RuleStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedRules
}

type cachedRules struct {
	rules    []Rule
	loadedAt time.Time
}

// NewRuleProvider creates a provider. ttl <= 0 uses DefaultCacheTTL.
func NewRuleProvider(store RuleStore, ttl time.Duration, logger *slog.Logger) *RuleProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RuleProvider{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]cachedRules),
	}
}

// Rules returns the organization's overrides, loading them at most once per TTL.
func (p *RuleProvider) Rules(ctx context.Context, orgID string) ([]Rule, error) {
	if p == nil || p.store == nil {
		return nil, nil
	}

	p.mu.Lock()
	entry, ok := p.entries[orgID]
	p.mu.Unlock()
	if ok && p.now().Sub(entry.loadedAt) < p.ttl {
		return entry.rules, nil
	}

	rules, err := p.store.ListRules(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading sla rules for org %s: %w", orgID, err)
	}

	p.mu.Lock()
	p.entries[orgID] = cachedRules{rules: rules, loadedAt: p.now()}
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.DebugContext(ctx, "sla rules loaded",
			slog.String("org_id", orgID),
			slog.Int("rules", len(rules)),
		)
	}
	return rules, nil
}

// Set persists an override and drops the cached copy for the org.
func (p *RuleProvider) Set(ctx context.Context, orgID string, rule Rule) error {
	if p == nil || p.store == nil {
		return fmt.Errorf("sla rule store not configured")
	}
	if err := p.store.UpsertRule(ctx, orgID, rule); err != nil {
		return fmt.Errorf("saving sla rule: %w", err)
	}
	p.Invalidate(orgID)
	return nil
}

// Invalidate forgets the cached rules of one organization.
func (p *RuleProvider) Invalidate(orgID string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.entries, orgID)
	p.mu.Unlock()
}
