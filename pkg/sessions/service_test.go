package sessions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
)

func newTestService(cfg config.SessionConfig) (*SessionService, *InMemSessionRepository, *audit.MemorySink) {
	repo := NewInMemSessionRepository()
	sink := audit.NewMemorySink()
	return NewSessionService(repo, sink, cfg), repo, sink
}

func createParams(ownerID uuid.UUID, deviceID *uuid.UUID, token string) CreateSessionParams {
	return CreateSessionParams{
		OwnerID:          ownerID,
		DeviceID:         deviceID,
		Token:            token,
		AccessTokenHash:  "access-" + token,
		RefreshTokenHash: "refresh-" + token,
	}
}

func TestCreateSessionSetsExpiryWindows(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	service, _, _ := newTestService(cfg)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return base })

	session, err := service.CreateSession(context.Background(), createParams(uuid.New(), nil, "tok-1"))

	require.NoError(t, err)
	assert.Equal(t, base, session.CreatedAt)
	assert.Equal(t, base, session.LastActivityAt)
	assert.Equal(t, base.Add(24*time.Hour), session.ExpiresAt)
	assert.Equal(t, base.Add(30*24*time.Hour), session.MaxExpiresAt)
}

func TestUserCeilingEvictsOldestFirst(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 5
	service, repo, _ := newTestService(cfg)
	ownerID := uuid.New()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	service.WithClock(func() time.Time { return clock })

	// Sessions created a minute apart; the first is always the oldest.
	var created []Session
	for i := 0; i < 5; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		session, err := service.CreateSession(context.Background(), createParams(ownerID, nil, fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)
		created = append(created, session)
	}

	clock = base.Add(10 * time.Minute)
	sixth, err := service.CreateSession(context.Background(), createParams(ownerID, nil, "tok-6"))
	require.NoError(t, err)

	active, err := repo.FindActiveSessionsByOwner(context.Background(), ownerID, clock)
	require.NoError(t, err)
	assert.Len(t, active, 5, "active count never exceeds the ceiling")

	// Exactly the least-recently-active session was evicted.
	evicted, err := repo.GetSessionByID(context.Background(), created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, evicted.TerminatedAt)
	assert.Equal(t, TerminationSessionLimit, evicted.TerminationReason)

	for _, survivor := range created[1:] {
		s, err := repo.GetSessionByID(context.Background(), survivor.ID)
		require.NoError(t, err)
		assert.Nil(t, s.TerminatedAt)
	}
	s, err := repo.GetSessionByID(context.Background(), sixth.ID)
	require.NoError(t, err)
	assert.Nil(t, s.TerminatedAt)
}

func TestCeilingHoldsAcrossLongSequence(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 3
	service, repo, _ := newTestService(cfg)
	ownerID := uuid.New()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	service.WithClock(func() time.Time { return clock })

	for i := 0; i < 10; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		_, err := service.CreateSession(context.Background(), createParams(ownerID, nil, fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)

		active, err := repo.FindActiveSessionsByOwner(context.Background(), ownerID, clock)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(active), 3, "after creation %d", i)
	}
}

func TestDeviceCeilingEnforcedBeforeUserCeiling(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerDevice = 2
	cfg.MaxSessionsPerUser = 10
	service, repo, _ := newTestService(cfg)
	ownerID := uuid.New()
	deviceID := uuid.New()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	service.WithClock(func() time.Time { return clock })

	for i := 0; i < 4; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		_, err := service.CreateSession(context.Background(), createParams(ownerID, &deviceID, fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)
	}

	active, err := repo.FindActiveSessionsByDevice(context.Background(), deviceID, clock)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestCeilingRejectsWhenEvictionDisabled(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 1
	cfg.TerminateOldestOnLimit = false
	service, _, _ := newTestService(cfg)
	ownerID := uuid.New()

	_, err := service.CreateSession(context.Background(), createParams(ownerID, nil, "tok-1"))
	require.NoError(t, err)

	_, err = service.CreateSession(context.Background(), createParams(ownerID, nil, "tok-2"))
	assert.ErrorIs(t, err, ErrSessionLimitReached)
}

func TestLimitsDisabledSkipsEnforcement(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 1
	cfg.EnforceSessionLimits = false
	service, repo, _ := newTestService(cfg)
	ownerID := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := service.CreateSession(context.Background(), createParams(ownerID, nil, fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)
	}

	active, err := repo.FindActiveSessionsByOwner(context.Background(), ownerID, time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 3)
}

func TestRefreshExtendsUpToAbsoluteCeiling(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.SessionExpiryHours = 24
	cfg.MaxSessionExpiryDays = 2
	service, _, _ := newTestService(cfg)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), createParams(uuid.New(), nil, "tok-1"))
	require.NoError(t, err)
	require.Equal(t, base.Add(48*time.Hour), session.MaxExpiresAt)

	// A refresh halfway through gets the full sliding window.
	clock = base.Add(12 * time.Hour)
	refreshed, err := service.RefreshSession(context.Background(), session.ID, "access-2", "refresh-2")
	require.NoError(t, err)
	assert.Equal(t, clock.Add(24*time.Hour), refreshed.ExpiresAt)
	assert.Equal(t, "refresh-2", refreshed.RefreshTokenHash)

	// A refresh whose sliding window would pass the absolute ceiling is
	// clamped to it.
	clock = base.Add(30 * time.Hour)
	refreshed, err = service.RefreshSession(context.Background(), session.ID, "access-3", "refresh-3")
	require.NoError(t, err)
	assert.Equal(t, session.MaxExpiresAt, refreshed.ExpiresAt)
}

func TestRefreshRejectsTerminatedAndExpired(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	service, _, _ := newTestService(cfg)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	service.WithClock(func() time.Time { return clock })

	session, err := service.CreateSession(context.Background(), createParams(uuid.New(), nil, "tok-1"))
	require.NoError(t, err)

	require.NoError(t, service.TerminateSession(context.Background(), session.ID, TerminationLogout))
	_, err = service.RefreshSession(context.Background(), session.ID, "a", "r")
	assert.ErrorIs(t, err, ErrSessionTerminated)

	expired, err := service.CreateSession(context.Background(), createParams(uuid.New(), nil, "tok-2"))
	require.NoError(t, err)
	clock = base.Add(25 * time.Hour)
	_, err = service.RefreshSession(context.Background(), expired.ID, "a", "r")
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	service, repo, sink := newTestService(cfg)

	session, err := service.CreateSession(context.Background(), createParams(uuid.New(), nil, "tok-1"))
	require.NoError(t, err)

	require.NoError(t, service.TerminateSession(context.Background(), session.ID, TerminationLogout))
	require.NoError(t, service.TerminateSession(context.Background(), session.ID, TerminationRevoked))

	stored, err := repo.GetSessionByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, TerminationLogout, stored.TerminationReason, "first reason wins")
	assert.Len(t, sink.Find("session_terminated"), 1)
}

func TestTerminateSessionsByDevice(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	service, _, _ := newTestService(cfg)
	ownerID := uuid.New()
	deviceID := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := service.CreateSession(context.Background(), createParams(ownerID, &deviceID, fmt.Sprintf("tok-%d", i)))
		require.NoError(t, err)
	}

	count, err := service.TerminateSessionsByDevice(context.Background(), deviceID, TerminationDeviceRemoved)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	active, err := service.FindActiveSessionsByOwner(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Empty(t, active)
}
