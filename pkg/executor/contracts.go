package executor

import (
	"context"
	"fmt"
	"time"
)

// Token is a short-lived credential for one tenant and provider.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// CredentialStore hands out valid provider tokens per tenant, refreshing
// transparently. A refresh failure is surfaced as a job failure, not a
// separate error class: without a token, no diff can be applied anyway.
type CredentialStore interface {
	GetValidToken(ctx context.Context, tenantID, provider string) (Token, error)
}

// LocalSource reads the local source of truth for a tenant. An empty
// targetKey means the whole resource; otherwise the snapshot is narrowed to
// the single record with that key.
type LocalSource interface {
	FetchLocal(ctx context.Context, tenantID, targetKey string) ([]Item, error)
}

// Client is a provider-specific adapter for the external system. External
// systems rate-limit and rarely offer multi-op transactions, so the contract
// is one operation at a time. Rate-limit signals are reported as
// *RateLimitError so callers can pace themselves.
type Client interface {
	FetchRemote(ctx context.Context, token Token, tenantID, targetKey string) ([]Item, error)
	Create(ctx context.Context, token Token, tenantID string, item Item) error
	Update(ctx context.Context, token Token, tenantID string, item Item) error
	Delete(ctx context.Context, token Token, tenantID string, key string) error
}

// RateLimitError signals that the provider throttled a call. RetryAfter is
// the provider-suggested wait, zero when the provider gave none.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return e.Provider + ": rate limited"
}

// DefaultCooldown suppresses redundant runs for the same (tenant, kind)
// within this window.
const DefaultCooldown = 60 * time.Second

// SyncSpec binds a sync kind to its collaborators.
type SyncSpec struct {
	// Provider names the external system, used for token lookup and
	// rate-limit reporting (e.g. "google-merchant", "google-business").
	Provider string

	// Local reads the tenant's source of truth.
	Local LocalSource

	// Client applies changes to the external system.
	Client Client

	// Cooldown suppresses re-runs within the window. Zero selects
	// DefaultCooldown; negative disables coalescing.
	Cooldown time.Duration
}
