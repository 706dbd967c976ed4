package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
	"github.com/veridian-id/trustcore/pkg/risk"
)

func testFingerprint(primary string) Fingerprint {
	return Fingerprint{
		Primary:    primary,
		Secondary:  "aaaabbbbccccddddeeeeffff00001111",
		Components: map[string]string{"os": "iOS", "browser": "Safari"},
		Confidence: ConfidenceMedium,
	}
}

func lowRisk() risk.Analysis {
	return risk.Analysis{Score: 0.2, Level: risk.LevelLow}
}

func newTestEngine(t *testing.T) (*TrustEngine, *InMemDeviceRepository, *audit.MemorySink) {
	t.Helper()
	repo := NewInMemDeviceRepository()
	sink := audit.NewMemorySink()
	engine := NewTrustEngine(repo, sink, config.DefaultDeviceTrustConfig())
	return engine, repo, sink
}

func seedDevice(t *testing.T, repo DeviceRepository, d Device) Device {
	t.Helper()
	created, err := repo.CreateDevice(context.Background(), d)
	require.NoError(t, err)
	return created
}

func TestEvaluateCreatesUnknownDevice(t *testing.T) {
	engine, _, sink := newTestEngine(t)
	ownerID := uuid.New()

	created, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-new"), lowRisk())

	require.NoError(t, err)
	assert.Equal(t, DecisionCreated, decision)
	assert.Equal(t, ownerID, created.OwnerID)
	assert.False(t, created.Trusted, "new devices start untrusted")
	assert.NotEqual(t, uuid.Nil, created.ID)

	events := sink.Find("device_trust")
	require.Len(t, events, 1)
	assert.Equal(t, string(DecisionCreated), events[0].Outcome)
}

func TestEvaluateRefreshesOwnActiveDevice(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ownerID := uuid.New()
	seedDevice(t, repo, Device{
		OwnerID:     ownerID,
		Fingerprint: "fp-active",
		Trusted:     true,
		LastSeenAt:  time.Now().Add(-48 * time.Hour),
	})

	refreshed, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-active"), lowRisk())

	require.NoError(t, err)
	assert.Equal(t, DecisionRefreshed, decision)
	assert.True(t, refreshed.Trusted, "low risk keeps the trust flag")
	assert.WithinDuration(t, time.Now(), refreshed.LastSeenAt, time.Minute)
	require.NotNil(t, refreshed.Metadata.LastRisk)
	assert.Equal(t, risk.LevelLow, refreshed.Metadata.LastRisk.Level)
}

func TestEvaluateRefreshForcesUntrustedOnHighRisk(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ownerID := uuid.New()
	seedDevice(t, repo, Device{OwnerID: ownerID, Fingerprint: "fp-risky", Trusted: true})

	high := risk.Analysis{Score: 0.75, Level: risk.LevelHigh}
	refreshed, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-risky"), high)

	require.NoError(t, err)
	assert.Equal(t, DecisionRefreshed, decision)
	assert.False(t, refreshed.Trusted)
}

func TestEvaluateReactivatesAfterNormalReturn(t *testing.T) {
	for _, reason := range []BlockReason{BlockReasonLogout, BlockReasonTimeout, BlockReasonSessionLimit} {
		t.Run(string(reason), func(t *testing.T) {
			engine, repo, _ := newTestEngine(t)
			ownerID := uuid.New()
			blockedAt := time.Now().Add(-5 * time.Minute)
			seedDevice(t, repo, Device{
				OwnerID:     ownerID,
				Fingerprint: "fp-blocked",
				BlockedAt:   &blockedAt,
				BlockReason: reason,
			})

			device, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-blocked"), lowRisk())

			require.NoError(t, err)
			assert.Equal(t, DecisionReactivated, decision)
			assert.False(t, device.IsBlocked())
			assert.True(t, device.Trusted, "normal return restores trust immediately")
		})
	}
}

func TestEvaluateSecurityBlockCooldown(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ownerID := uuid.New()
	blockedAt := time.Now().Add(-2 * time.Hour)
	seedDevice(t, repo, Device{
		OwnerID:     ownerID,
		Fingerprint: "fp-sec",
		BlockedAt:   &blockedAt,
		BlockReason: BlockReasonSecurityViolation,
	})

	// Within the 24h cooldown the attempt is rejected.
	_, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-sec"), lowRisk())
	assert.Equal(t, DecisionRejected, decision)
	var idmErr *idmerrors.Error
	require.ErrorAs(t, err, &idmErr)
	assert.Equal(t, idmerrors.ErrCodeDeviceBlocked, idmErr.Code)

	// After the cooldown the device returns untrusted.
	engine.WithClock(func() time.Time { return time.Now().Add(23 * time.Hour).UTC() })
	device, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-sec"), lowRisk())
	require.NoError(t, err)
	assert.Equal(t, DecisionReactivated, decision)
	assert.False(t, device.IsBlocked())
	assert.False(t, device.Trusted, "security reactivation never restores trust")
}

func TestEvaluateAdminBlockIsPermanent(t *testing.T) {
	for _, reason := range []BlockReason{BlockReasonAdminBlocked, BlockReasonPolicyViolation} {
		t.Run(string(reason), func(t *testing.T) {
			engine, repo, _ := newTestEngine(t)
			ownerID := uuid.New()
			blockedAt := time.Now().Add(-365 * 24 * time.Hour)
			seedDevice(t, repo, Device{
				OwnerID:     ownerID,
				Fingerprint: "fp-admin",
				BlockedAt:   &blockedAt,
				BlockReason: reason,
			})

			_, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-admin"), lowRisk())

			assert.Equal(t, DecisionRejected, decision)
			var idmErr *idmerrors.Error
			require.ErrorAs(t, err, &idmErr)
			assert.Equal(t, idmerrors.ErrCodeDeviceRejected, idmErr.Code)
		})
	}
}

func TestEvaluateUnknownBlockReason(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ownerID := uuid.New()
	blockedAt := time.Now().Add(-10 * time.Minute)
	seedDevice(t, repo, Device{
		OwnerID:     ownerID,
		Fingerprint: "fp-legacy",
		BlockedAt:   &blockedAt,
		BlockReason: BlockReason("legacy-migration"),
	})

	_, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-legacy"), lowRisk())
	assert.Equal(t, DecisionRejected, decision)
	require.Error(t, err)

	engine.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour).UTC() })
	device, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-legacy"), lowRisk())
	require.NoError(t, err)
	assert.Equal(t, DecisionReactivated, decision)
	assert.False(t, device.Trusted)
}

func TestEvaluateRejectsForeignActiveDevice(t *testing.T) {
	engine, repo, sink := newTestEngine(t)
	ownerA := uuid.New()
	ownerB := uuid.New()
	seedDevice(t, repo, Device{OwnerID: ownerA, Fingerprint: "fp-shared", Trusted: true})

	_, decision, err := engine.Evaluate(context.Background(), ownerB, testFingerprint("fp-shared"), lowRisk())

	assert.Equal(t, DecisionRejected, decision)
	var idmErr *idmerrors.Error
	require.ErrorAs(t, err, &idmErr)
	assert.Equal(t, idmerrors.ErrCodeDeviceRejected, idmErr.Code)

	// The stored device is untouched and still owned by A.
	stored, getErr := repo.GetDeviceByFingerprint(context.Background(), "fp-shared")
	require.NoError(t, getErr)
	assert.Equal(t, ownerA, stored.OwnerID)
	assert.True(t, stored.Trusted)

	events := sink.Find("device_trust")
	require.Len(t, events, 1)
	assert.Equal(t, "cross-owner-active", events[0].Details["blockReason"])
}

func TestEvaluateForeignBlockedDevice(t *testing.T) {
	engine, repo, _ := newTestEngine(t)
	ownerA := uuid.New()
	ownerB := uuid.New()

	// Recently blocked: still rejected.
	recentBlock := time.Now().Add(-10 * 24 * time.Hour)
	seedDevice(t, repo, Device{
		OwnerID:     ownerA,
		Fingerprint: "fp-transfer",
		BlockedAt:   &recentBlock,
		BlockReason: BlockReasonLogout,
	})
	_, decision, err := engine.Evaluate(context.Background(), ownerB, testFingerprint("fp-transfer"), lowRisk())
	assert.Equal(t, DecisionRejected, decision)
	require.Error(t, err)

	// Past the transfer window: ownership moves, trust does not.
	engine.WithClock(func() time.Time { return time.Now().Add(25 * 24 * time.Hour).UTC() })
	device, decision, err := engine.Evaluate(context.Background(), ownerB, testFingerprint("fp-transfer"), lowRisk())
	require.NoError(t, err)
	assert.Equal(t, DecisionTransferred, decision)
	assert.Equal(t, ownerB, device.OwnerID)
	assert.False(t, device.Trusted)
	assert.False(t, device.IsBlocked())
}

// conflictingRepo simulates a concurrent insert: the first CreateDevice call
// stores the row itself and reports the uniqueness violation.
type conflictingRepo struct {
	DeviceRepository
	conflicted bool
}

func (r *conflictingRepo) CreateDevice(ctx context.Context, device Device) (Device, error) {
	if !r.conflicted {
		r.conflicted = true
		if _, err := r.DeviceRepository.CreateDevice(ctx, device); err != nil {
			return Device{}, err
		}
		return Device{}, ErrDeviceExists
	}
	return r.DeviceRepository.CreateDevice(ctx, device)
}

func TestEvaluateRetriesOnConcurrentInsert(t *testing.T) {
	inner := NewInMemDeviceRepository()
	repo := &conflictingRepo{DeviceRepository: inner}
	engine := NewTrustEngine(repo, audit.NewMemorySink(), config.DefaultDeviceTrustConfig())
	ownerID := uuid.New()

	device, decision, err := engine.Evaluate(context.Background(), ownerID, testFingerprint("fp-race"), lowRisk())

	// The losing writer retries the lookup and lands in the refresh branch.
	require.NoError(t, err)
	assert.Equal(t, DecisionRefreshed, decision)
	assert.Equal(t, ownerID, device.OwnerID)
}

func TestDeviceServiceBlockAndRemove(t *testing.T) {
	repo := NewInMemDeviceRepository()
	service := NewDeviceService(repo)
	ownerID := uuid.New()
	seeded := seedDevice(t, repo, Device{OwnerID: ownerID, Fingerprint: "fp-svc", Trusted: true})

	blocked, err := service.BlockDevice(context.Background(), "fp-svc", BlockReasonLogout)
	require.NoError(t, err)
	assert.True(t, blocked.IsBlocked())
	assert.False(t, blocked.Trusted)
	assert.Equal(t, BlockReasonLogout, blocked.BlockReason)

	devices, err := service.FindDevicesByOwner(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	require.NoError(t, service.RemoveDevice(context.Background(), seeded.ID))
	_, err = repo.GetDeviceByFingerprint(context.Background(), "fp-svc")
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
}
