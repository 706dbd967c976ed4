package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	idmerrors "github.com/veridian-id/trustcore/pkg/errors"
	"github.com/veridian-id/trustcore/pkg/risk"
)

// TrustDecision names the branch the trust engine took.
type TrustDecision string

const (
	DecisionCreated     TrustDecision = "created"
	DecisionRefreshed   TrustDecision = "refreshed"
	DecisionReactivated TrustDecision = "reactivated"
	DecisionTransferred TrustDecision = "transferred"
	DecisionRejected    TrustDecision = "rejected"
)

// TrustEngine decides whether a device record is created, reactivated,
// transferred or rejected for each login attempt.
type TrustEngine struct {
	repo      DeviceRepository
	auditSink audit.Sink
	cfg       config.DeviceTrustConfig
	now       func() time.Time
}

// NewTrustEngine creates a trust engine with the given repository, audit
// sink and cooldown configuration.
func NewTrustEngine(repo DeviceRepository, auditSink audit.Sink, cfg config.DeviceTrustConfig) *TrustEngine {
	return &TrustEngine{
		repo:      repo,
		auditSink: auditSink,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *TrustEngine) WithClock(now func() time.Time) *TrustEngine {
	e.now = now
	return e
}

// WithTx returns a copy of the engine bound to the given transaction.
func (e *TrustEngine) WithTx(tx interface{}) *TrustEngine {
	clone := *e
	clone.repo = e.repo.WithTx(tx)
	return &clone
}

// Evaluate runs the trust state machine for one login attempt. The returned
// device reflects the mutation already applied to the store. Rejections are
// surfaced as generic policy errors; the true branch is only audited.
func (e *TrustEngine) Evaluate(ctx context.Context, ownerID uuid.UUID, fp Fingerprint, analysis risk.Analysis) (Device, TrustDecision, error) {
	existing, err := e.repo.GetDeviceByFingerprint(ctx, fp.Primary)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return e.createDevice(ctx, ownerID, fp, analysis)
		}
		return Device{}, DecisionRejected, fmt.Errorf("failed to look up device: %w", err)
	}

	if existing.OwnerID == ownerID {
		if !existing.IsBlocked() {
			return e.refreshDevice(ctx, existing, fp, analysis)
		}
		return e.evaluateBlocked(ctx, existing, fp, analysis)
	}
	return e.evaluateForeign(ctx, ownerID, existing, fp, analysis)
}

// refreshDevice handles a returning active device: metadata and last-seen
// refresh, trust flag kept unless the risk gate forces untrusted.
func (e *TrustEngine) refreshDevice(ctx context.Context, existing Device, fp Fingerprint, analysis risk.Analysis) (Device, TrustDecision, error) {
	now := e.now()
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	existing.Metadata = DeviceMetadata{Components: fp.Components, LastRisk: &analysis}
	existing.Confidence = fp.Confidence
	if analysis.ForceUntrusted() {
		existing.Trusted = false
	}

	updated, err := e.repo.UpdateDevice(ctx, existing)
	if err != nil {
		return Device{}, DecisionRejected, fmt.Errorf("failed to refresh device: %w", err)
	}
	e.audit(ctx, updated, DecisionRefreshed, analysis, "", 0)
	return updated, DecisionRefreshed, nil
}

// evaluateBlocked handles a blocked device owned by the requester.
func (e *TrustEngine) evaluateBlocked(ctx context.Context, existing Device, fp Fingerprint, analysis risk.Analysis) (Device, TrustDecision, error) {
	now := e.now()
	elapsed := now.Sub(*existing.BlockedAt)
	reason := existing.BlockReason

	switch reason {
	case BlockReasonLogout, BlockReasonTimeout, BlockReasonSessionLimit:
		// normal return: clear block, restore trust
		return e.reactivate(ctx, existing, fp, analysis, true, elapsed)

	case BlockReasonSecurityViolation, BlockReasonCompromised, BlockReasonSuspicious:
		if elapsed < e.cfg.SecurityBlockCooldown {
			e.audit(ctx, existing, DecisionRejected, analysis, string(reason), elapsed)
			return Device{}, DecisionRejected,
				idmerrors.New(idmerrors.ErrCodeDeviceBlocked, "device temporarily blocked, try again later")
		}
		// post-cooldown reactivation, untrusted
		return e.reactivate(ctx, existing, fp, analysis, false, elapsed)

	case BlockReasonAdminBlocked, BlockReasonPolicyViolation:
		e.audit(ctx, existing, DecisionRejected, analysis, string(reason), elapsed)
		return Device{}, DecisionRejected, idmerrors.DeviceRejected()

	default:
		if elapsed < e.cfg.UnknownBlockCooldown {
			e.audit(ctx, existing, DecisionRejected, analysis, string(reason), elapsed)
			return Device{}, DecisionRejected,
				idmerrors.New(idmerrors.ErrCodeDeviceBlocked, "device temporarily blocked, try again later")
		}
		slog.Warn("reactivating device blocked with unknown reason",
			"deviceID", existing.ID, "blockReason", reason, "blockedFor", elapsed)
		return e.reactivate(ctx, existing, fp, analysis, false, elapsed)
	}
}

// evaluateForeign handles a fingerprint owned by a different requester:
// a suspected collision or hijack. Active foreign devices always reject;
// long-blocked ones transfer ownership.
func (e *TrustEngine) evaluateForeign(ctx context.Context, ownerID uuid.UUID, existing Device, fp Fingerprint, analysis risk.Analysis) (Device, TrustDecision, error) {
	if !existing.IsBlocked() {
		e.audit(ctx, existing, DecisionRejected, analysis, "cross-owner-active", 0)
		return Device{}, DecisionRejected, idmerrors.DeviceRejected()
	}

	now := e.now()
	elapsed := now.Sub(*existing.BlockedAt)
	if elapsed <= e.cfg.TransferWindow {
		e.audit(ctx, existing, DecisionRejected, analysis, "cross-owner-recent-block", elapsed)
		return Device{}, DecisionRejected, idmerrors.DeviceRejected()
	}

	existing.OwnerID = ownerID
	existing.BlockedAt = nil
	existing.BlockReason = ""
	existing.Trusted = false
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	existing.Metadata = DeviceMetadata{Components: fp.Components, LastRisk: &analysis}
	existing.Confidence = fp.Confidence

	updated, err := e.repo.UpdateDevice(ctx, existing)
	if err != nil {
		return Device{}, DecisionRejected, fmt.Errorf("failed to transfer device: %w", err)
	}
	e.audit(ctx, updated, DecisionTransferred, analysis, "cross-owner-stale-block", elapsed)
	return updated, DecisionTransferred, nil
}

func (e *TrustEngine) reactivate(ctx context.Context, existing Device, fp Fingerprint, analysis risk.Analysis, trusted bool, blockedFor time.Duration) (Device, TrustDecision, error) {
	now := e.now()
	reason := existing.BlockReason
	existing.BlockedAt = nil
	existing.BlockReason = ""
	existing.Trusted = trusted && !analysis.ForceUntrusted()
	existing.LastSeenAt = now
	existing.UpdatedAt = now
	existing.Metadata = DeviceMetadata{Components: fp.Components, LastRisk: &analysis}
	existing.Confidence = fp.Confidence

	updated, err := e.repo.UpdateDevice(ctx, existing)
	if err != nil {
		return Device{}, DecisionRejected, fmt.Errorf("failed to reactivate device: %w", err)
	}
	e.audit(ctx, updated, DecisionReactivated, analysis, string(reason), blockedFor)
	return updated, DecisionReactivated, nil
}

func (e *TrustEngine) createDevice(ctx context.Context, ownerID uuid.UUID, fp Fingerprint, analysis risk.Analysis) (Device, TrustDecision, error) {
	now := e.now()
	newDevice := Device{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		Fingerprint:          fp.Primary,
		SecondaryFingerprint: fp.Secondary,
		Confidence:           fp.Confidence,
		Trusted:              false,
		LastSeenAt:           now,
		Metadata:             DeviceMetadata{Components: fp.Components, LastRisk: &analysis},
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	created, err := e.repo.CreateDevice(ctx, newDevice)
	if err != nil {
		// A concurrent request may have inserted the same fingerprint
		// first; the unique constraint arbitrates and we retry the lookup.
		if errors.Is(err, ErrDeviceExists) {
			slog.Debug("fingerprint inserted concurrently, retrying lookup", "fingerprint", fingerprintPrefix(fp.Primary))
			return e.Evaluate(ctx, ownerID, fp, analysis)
		}
		return Device{}, DecisionRejected, fmt.Errorf("failed to create device: %w", err)
	}
	e.audit(ctx, created, DecisionCreated, analysis, "", 0)
	return created, DecisionCreated, nil
}

func (e *TrustEngine) audit(ctx context.Context, d Device, decision TrustDecision, analysis risk.Analysis, blockReason string, blockedFor time.Duration) {
	if e.auditSink == nil {
		return
	}
	details := map[string]interface{}{
		"fingerprint": fingerprintPrefix(d.Fingerprint),
		"riskLevel":   string(analysis.Level),
		"riskScore":   analysis.Score,
	}
	if blockReason != "" {
		details["blockReason"] = blockReason
	}
	if blockedFor > 0 {
		details["blockedFor"] = blockedFor.String()
	}
	e.auditSink.Record(ctx, audit.Event{
		Action:   "device_trust",
		Outcome:  string(decision),
		UserID:   d.OwnerID.String(),
		DeviceID: d.ID.String(),
		Details:  details,
	})
}

// fingerprintPrefix returns only the leading characters of a fingerprint,
// enough to correlate audit entries without logging the full identity key.
func fingerprintPrefix(fingerprint string) string {
	if len(fingerprint) <= 8 {
		return fingerprint
	}
	return fingerprint[:8]
}
