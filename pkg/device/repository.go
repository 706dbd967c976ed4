package device

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-id/trustcore/pkg/risk"
)

// ConfidenceLevel is the coarse reliability label for a fingerprint.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// BlockReason records why a device was blocked.
type BlockReason string

const (
	BlockReasonLogout            BlockReason = "logout"
	BlockReasonTimeout           BlockReason = "timeout"
	BlockReasonSessionLimit      BlockReason = "session-limit-enforced"
	BlockReasonSecurityViolation BlockReason = "security-violation"
	BlockReasonCompromised       BlockReason = "compromised"
	BlockReasonSuspicious        BlockReason = "suspicious-activity"
	BlockReasonAdminBlocked      BlockReason = "admin-blocked"
	BlockReasonPolicyViolation   BlockReason = "policy-violation"
)

// DeviceMetadata is the free-form snapshot stored with each device: the
// detection components the fingerprint was derived from plus the most recent
// risk analysis.
type DeviceMetadata struct {
	Components map[string]string `json:"components,omitempty"`
	LastRisk   *risk.Analysis    `json:"last_risk,omitempty"`
}

// Device is a recognized client device bound to an owner.
type Device struct {
	ID                   uuid.UUID       `json:"id"`
	OwnerID              uuid.UUID       `json:"owner_id"`
	Fingerprint          string          `json:"fingerprint"`
	SecondaryFingerprint string          `json:"secondary_fingerprint,omitempty"`
	Confidence           ConfidenceLevel `json:"confidence"`
	Trusted              bool            `json:"trusted"`
	BlockedAt            *time.Time      `json:"blocked_at,omitempty"`
	BlockReason          BlockReason     `json:"block_reason,omitempty"`
	LastSeenAt           time.Time       `json:"last_seen_at"`
	Metadata             DeviceMetadata  `json:"metadata"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsBlocked reports whether the device currently carries a block.
func (d *Device) IsBlocked() bool {
	return d.BlockedAt != nil
}

var (
	// ErrDeviceNotFound is returned when no device matches the lookup.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceExists is returned on a primary-fingerprint uniqueness
	// violation. Callers treat it as "record already exists, retry the
	// lookup branch", never as fatal.
	ErrDeviceExists = errors.New("device already exists")
)

// DeviceRepository defines the interface for device storage operations.
// The primary fingerprint is globally unique at the store level; cross-owner
// collisions are arbitrated by the trust engine, never merged here.
type DeviceRepository interface {
	CreateDevice(ctx context.Context, device Device) (Device, error)
	GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error)
	GetDeviceByFingerprint(ctx context.Context, fingerprint string) (Device, error)
	FindDevicesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Device, error)
	UpdateDevice(ctx context.Context, device Device) (Device, error)
	DeleteDevice(ctx context.Context, id uuid.UUID) error

	// WithTx returns a repository bound to the given transaction
	WithTx(tx interface{}) DeviceRepository
}
