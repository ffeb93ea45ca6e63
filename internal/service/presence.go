package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/ratelimit"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	apperrors "github.com/helpdesk-labs/support-chat/pkg/util/errorutil"
)

// Offline reasons carried on presence events.
const (
	OfflineExplicit   = "explicit"
	OfflineDisconnect = "disconnect"
	OfflineStale      = "stale"
	OnlineAnnounced   = "announced"
	OnlineHeartbeat   = "heartbeat"
)

// Caller identifies the authenticated connection making a presence call.
type Caller struct {
	ConnectionID string
	IdentityID   int64
	Kind         domain.IdentityKind
}

// Announcement is the payload of a userOnline frame.
type Announcement struct {
	IdentityID  int64               `json:"identity_id"`
	Kind        domain.IdentityKind `json:"kind"`
	DisplayName string              `json:"display_name"`
}

// PresenceTracker keeps one live record per identity and evicts records that stop
// heartbeating.
type PresenceTracker struct {
	mu         sync.Mutex
	records    map[string]*domain.PresenceRecord
	limiter    *ratelimit.SlidingWindow
	profiles   repository.ProfileRepository
	dispatcher events.Dispatcher
	cfg        config.PresenceConfig
	now        func() time.Time
	logger     *zap.Logger
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker(profiles repository.ProfileRepository, dispatcher events.Dispatcher, cfg config.PresenceConfig, logger *zap.Logger) *PresenceTracker {
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return &PresenceTracker{
		records:    make(map[string]*domain.PresenceRecord),
		limiter:    ratelimit.NewSlidingWindow(window),
		profiles:   profiles,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.Named("presence"),
	}
}

// WithClock overrides the time source for the tracker and its limiter.
func (t *PresenceTracker) WithClock(now func() time.Time) *PresenceTracker {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
	t.limiter.WithClock(now)
	return t
}

// MarkOnline records the caller as online. A newer connection replaces an older record.
func (t *PresenceTracker) MarkOnline(ctx context.Context, caller Caller, ann Announcement) (*domain.PresenceRecord, error) {
	if err := t.validateAnnouncement(ann); err != nil {
		return nil, err
	}
	if ann.IdentityID != caller.IdentityID || ann.Kind != caller.Kind {
		return nil, foreignIdentity(ann.IdentityID)
	}
	if err := t.allow(caller); err != nil {
		return nil, err
	}

	t.mu.Lock()
	record := &domain.PresenceRecord{
		IdentityID:   ann.IdentityID,
		ConnectionID: caller.ConnectionID,
		Kind:         ann.Kind,
		DisplayName:  strings.TrimSpace(ann.DisplayName),
		LastSeen:     t.now(),
	}
	t.records[identityKey(ann.Kind, ann.IdentityID)] = record
	snapshot := *record
	t.mu.Unlock()

	t.publish(ctx, snapshot, domain.PresenceOnline, OnlineAnnounced)
	return &snapshot, nil
}

// Heartbeat refreshes the caller's record.
func (t *PresenceTracker) Heartbeat(ctx context.Context, caller Caller, identityID int64) (*domain.PresenceRecord, error) {
	if identityID != caller.IdentityID {
		return nil, foreignIdentity(identityID)
	}
	if err := t.allow(caller); err != nil {
		return nil, err
	}

	t.mu.Lock()
	record, ok := t.records[identityKey(caller.Kind, identityID)]
	if !ok {
		t.mu.Unlock()
		return nil, apperrors.NewNotFound("presence record", map[string]any{"identity_id": identityID})
	}
	if record.ConnectionID != caller.ConnectionID {
		t.mu.Unlock()
		return nil, foreignConnection(identityID)
	}
	record.LastSeen = t.now()
	snapshot := *record
	t.mu.Unlock()

	t.publish(ctx, snapshot, domain.PresenceOnline, OnlineHeartbeat)
	return &snapshot, nil
}

// MarkOffline removes the caller's record. It is a no-op when nothing is recorded.
func (t *PresenceTracker) MarkOffline(ctx context.Context, caller Caller, identityID int64) error {
	if identityID != caller.IdentityID {
		return foreignIdentity(identityID)
	}
	if err := t.allow(caller); err != nil {
		return err
	}

	t.mu.Lock()
	key := identityKey(caller.Kind, identityID)
	record, ok := t.records[key]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if record.ConnectionID != caller.ConnectionID {
		t.mu.Unlock()
		return foreignConnection(identityID)
	}
	delete(t.records, key)
	record.LastSeen = t.now()
	snapshot := *record
	t.mu.Unlock()

	t.goOffline(ctx, snapshot, OfflineExplicit)
	return nil
}

// Disconnect removes the record owned by connectionID, if any. Records already replaced by
// a newer connection are left alone.
func (t *PresenceTracker) Disconnect(ctx context.Context, connectionID string, kind domain.IdentityKind, identityID int64) bool {
	t.mu.Lock()
	key := identityKey(kind, identityID)
	record, ok := t.records[key]
	if !ok || record.ConnectionID != connectionID {
		t.mu.Unlock()
		return false
	}
	delete(t.records, key)
	record.LastSeen = t.now()
	snapshot := *record
	t.mu.Unlock()

	t.goOffline(ctx, snapshot, OfflineDisconnect)
	return true
}

// ListOnline returns a snapshot of every live record.
func (t *PresenceTracker) ListOnline() []domain.PresenceRecord {
	t.mu.Lock()
	out := make([]domain.PresenceRecord, 0, len(t.records))
	for _, record := range t.records {
		out = append(out, *record)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].IdentityID < out[j].IdentityID
	})
	return out
}

// IsOnline reports whether the identity has a live record.
func (t *PresenceTracker) IsOnline(kind domain.IdentityKind, identityID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[identityKey(kind, identityID)]
	return ok
}

// Sweep evicts records whose last heartbeat is older than the stale threshold and returns
// how many were evicted.
func (t *PresenceTracker) Sweep(ctx context.Context) int {
	t.mu.Lock()
	cutoff := t.now().Add(-t.cfg.StaleAfter)
	var evicted []domain.PresenceRecord
	for key, record := range t.records {
		if record.LastSeen.Before(cutoff) {
			evicted = append(evicted, *record)
			delete(t.records, key)
		}
	}
	t.mu.Unlock()

	for _, record := range evicted {
		t.goOffline(ctx, record, OfflineStale)
	}
	if len(evicted) > 0 {
		t.logger.Info("stale presence evicted", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// PurgeLimiter drops rate-limit state for quiet identities.
func (t *PresenceTracker) PurgeLimiter(maxIdle time.Duration) int {
	return t.limiter.PurgeIdle(maxIdle)
}

func (t *PresenceTracker) goOffline(ctx context.Context, record domain.PresenceRecord, reason string) {
	if t.profiles != nil {
		if err := t.profiles.WriteLastSeen(ctx, record.Kind, record.IdentityID, record.LastSeen); err != nil {
			t.logger.Warn("write last seen failed",
				zap.String("kind", string(record.Kind)),
				zap.Int64("identity_id", record.IdentityID),
				zap.Error(err))
		}
	}
	t.publish(ctx, record, domain.PresenceOffline, reason)
}

func (t *PresenceTracker) publish(ctx context.Context, record domain.PresenceRecord, status domain.PresenceStatus, reason string) {
	_ = t.dispatcher.Publish(ctx, events.Event{
		Type:  events.EventPresenceChanged,
		Actor: events.Actor{Kind: record.Kind, ID: record.IdentityID},
		Payload: events.PresenceChangedPayload{
			IdentityID:  record.IdentityID,
			Kind:        record.Kind,
			DisplayName: record.DisplayName,
			Status:      status,
			LastSeen:    record.LastSeen,
			Reason:      reason,
		},
	})
}

func (t *PresenceTracker) allow(caller Caller) error {
	if ok, retryAfter := t.limiter.Allow(identityKey(caller.Kind, caller.IdentityID), t.cfg.UpdatesPerMin); !ok {
		return apperrors.NewRateLimited("presence update rate limit exceeded", retryAfter)
	}
	return nil
}

func (t *PresenceTracker) validateAnnouncement(ann Announcement) error {
	if ann.IdentityID <= 0 {
		return apperrors.NewValidationError("identity id must be positive", map[string]any{"field": "identity_id"})
	}
	maxKind := t.cfg.MaxKindLength
	if maxKind <= 0 {
		maxKind = 16
	}
	if len(ann.Kind) > maxKind || !ann.Kind.Valid() {
		return apperrors.NewValidationError("kind must be agent or client", map[string]any{"field": "kind"})
	}
	maxName := t.cfg.MaxDisplayName
	if maxName <= 0 {
		maxName = 100
	}
	name := strings.TrimSpace(ann.DisplayName)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxName {
		return apperrors.NewValidationError(fmt.Sprintf("display name must be between 1 and %d characters", maxName), map[string]any{
			"field": "display_name",
			"max":   maxName,
		})
	}
	return nil
}

func foreignIdentity(identityID int64) error {
	return apperrors.NewForbiddenWithDetails("presence can only be changed for your own identity", map[string]any{
		"identity_id": identityID,
		"reason":      "foreign_identity",
	})
}

func foreignConnection(identityID int64) error {
	return apperrors.NewForbiddenWithDetails("presence record belongs to another connection", map[string]any{
		"identity_id": identityID,
		"reason":      "foreign_connection",
	})
}
