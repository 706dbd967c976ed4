package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemDeviceRepository implements DeviceRepository using an in-memory map
// keyed by primary fingerprint. The map key enforces the same uniqueness the
// store-level constraint would.
type InMemDeviceRepository struct {
	devices map[string]Device
	mu      sync.Mutex
}

// NewInMemDeviceRepository creates a new in-memory device repository
func NewInMemDeviceRepository() *InMemDeviceRepository {
	return &InMemDeviceRepository{
		devices: make(map[string]Device),
	}
}

// CreateDevice creates a new device in memory
func (r *InMemDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.Fingerprint]; exists {
		return Device{}, ErrDeviceExists
	}

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	r.devices[device.Fingerprint] = device
	slog.Debug("Device created", "fingerprint", fingerprintPrefix(device.Fingerprint), "ownerID", device.OwnerID)
	return device, nil
}

// GetDeviceByID retrieves a device by ID
func (r *InMemDeviceRepository) GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, device := range r.devices {
		if device.ID == id {
			return device, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

// GetDeviceByFingerprint retrieves a device by its primary fingerprint
func (r *InMemDeviceRepository) GetDeviceByFingerprint(ctx context.Context, fingerprint string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, exists := r.devices[fingerprint]
	if !exists {
		return Device{}, ErrDeviceNotFound
	}
	return device, nil
}

// FindDevicesByOwner returns all devices owned by the given owner
func (r *InMemDeviceRepository) FindDevicesByOwner(ctx context.Context, ownerID uuid.UUID) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var devices []Device
	for _, device := range r.devices {
		if device.OwnerID == ownerID {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// UpdateDevice replaces the stored device matched by ID
func (r *InMemDeviceRepository) UpdateDevice(ctx context.Context, device Device) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for fingerprint, existing := range r.devices {
		if existing.ID == device.ID {
			if fingerprint != device.Fingerprint {
				delete(r.devices, fingerprint)
			}
			device.UpdatedAt = time.Now().UTC()
			r.devices[device.Fingerprint] = device
			return device, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}

// DeleteDevice removes a device by ID
func (r *InMemDeviceRepository) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for fingerprint, existing := range r.devices {
		if existing.ID == id {
			delete(r.devices, fingerprint)
			return nil
		}
	}
	return ErrDeviceNotFound
}

// WithTx returns the repository itself since the in-memory implementation
// doesn't support transactions
func (r *InMemDeviceRepository) WithTx(tx interface{}) DeviceRepository {
	return r
}
