package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DeviceService handles device management outside the trust decision itself:
// blocking, listing and removal.
type DeviceService struct {
	repo DeviceRepository
}

// NewDeviceService creates a new device service with the given repository
func NewDeviceService(repo DeviceRepository) *DeviceService {
	return &DeviceService{repo: repo}
}

// BlockDevice marks the device blocked with the given reason.
func (s *DeviceService) BlockDevice(ctx context.Context, fingerprint string, reason BlockReason) (Device, error) {
	device, err := s.repo.GetDeviceByFingerprint(ctx, fingerprint)
	if err != nil {
		return Device{}, fmt.Errorf("device not found: %w", err)
	}

	now := time.Now().UTC()
	device.BlockedAt = &now
	device.BlockReason = reason
	device.Trusted = false
	device.UpdatedAt = now

	updated, err := s.repo.UpdateDevice(ctx, device)
	if err != nil {
		return Device{}, fmt.Errorf("failed to block device: %w", err)
	}
	slog.Info("device blocked", "fingerprint", fingerprintPrefix(fingerprint), "reason", reason)
	return updated, nil
}

// BlockDeviceByID marks the device with the given id blocked.
func (s *DeviceService) BlockDeviceByID(ctx context.Context, id uuid.UUID, reason BlockReason) (Device, error) {
	device, err := s.repo.GetDeviceByID(ctx, id)
	if err != nil {
		return Device{}, fmt.Errorf("device not found: %w", err)
	}
	return s.BlockDevice(ctx, device.Fingerprint, reason)
}

// WithTx returns a copy of the service bound to the given transaction.
func (s *DeviceService) WithTx(tx interface{}) *DeviceService {
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

// FindDevicesByOwner returns all devices for an owner
func (s *DeviceService) FindDevicesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Device, error) {
	devices, err := s.repo.FindDevicesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to find devices for owner: %w", err)
	}
	return devices, nil
}

// GetDeviceByFingerprint returns the device with the given primary fingerprint
func (s *DeviceService) GetDeviceByFingerprint(ctx context.Context, fingerprint string) (Device, error) {
	return s.repo.GetDeviceByFingerprint(ctx, fingerprint)
}

// RemoveDevice deletes a device. Only explicit admin or user action reaches
// this path; sightings and blocks never delete rows.
func (s *DeviceService) RemoveDevice(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("failed to remove device: %w", err)
	}
	slog.Info("device removed", "deviceID", id)
	return nil
}
