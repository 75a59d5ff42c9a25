package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ReputationList keeps whitelist and blacklist entries for source
// addresses in the CounterStore. The whitelist is consulted first so an
// operator can override a blacklist entry without deleting it.
type ReputationList struct {
	store CounterStore
	log   zerolog.Logger
}

func NewReputationList(store CounterStore, log zerolog.Logger) *ReputationList {
	return &ReputationList{
		store: store,
		log:   log.With().Str("component", "reputation").Logger(),
	}
}

// AllowIP whitelists an address. Idempotent; re-allowing refreshes the
// TTL.
func (l *ReputationList) AllowIP(ctx context.Context, ip string, ttl time.Duration) error {
	if err := l.store.Set(ctx, whitelistPrefix+ip, "1", ttl); err != nil {
		return err
	}
	l.log.Info().Str("ip", ip).Dur("ttl", ttl).Msg("ip whitelisted")
	return nil
}

// DenyIP blacklists an address with a reason shown to operators.
func (l *ReputationList) DenyIP(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if reason == "" {
		reason = ReasonBlacklisted
	}
	if err := l.store.Set(ctx, blacklistPrefix+ip, reason, ttl); err != nil {
		return err
	}
	l.log.Info().Str("ip", ip).Str("reason", reason).Dur("ttl", ttl).Msg("ip blacklisted")
	return nil
}

func (l *ReputationList) RemoveIP(ctx context.Context, ip string) error {
	if err := l.store.Delete(ctx, whitelistPrefix+ip); err != nil {
		return err
	}
	return l.store.Delete(ctx, blacklistPrefix+ip)
}

// IsAllowed reports whitelist membership.
func (l *ReputationList) IsAllowed(ctx context.Context, ip string) (bool, error) {
	_, ok, err := l.store.Get(ctx, whitelistPrefix+ip)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// IsDenied reports blacklist membership and the stored reason.
func (l *ReputationList) IsDenied(ctx context.Context, ip string) (bool, string, error) {
	reason, ok, err := l.store.Get(ctx, blacklistPrefix+ip)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, "", nil
	}
	return true, reason, nil
}
