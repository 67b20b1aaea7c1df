package devices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"streamgate/models"
	"streamgate/services/accounts"
)

const (
	// DefaultStreamTTL: a streaming device that has not heartbeated within
	// this window is considered dead and loses the slot.
	DefaultStreamTTL = 90 * time.Second

	DefaultMaxDevices = models.MaxDevicesPerAccount
)

var (
	ErrMissingDeviceID = errors.New("device id is required")

	// ErrDeviceLimitExceeded: the account already carries the maximum number
	// of registered devices and the request introduced a new device id.
	ErrDeviceLimitExceeded = errors.New("device registration limit reached")

	// ErrDeviceLimitActive: another device on the account holds the
	// streaming slot and is still fresh.
	ErrDeviceLimitActive = errors.New("another device is currently streaming")

	// ErrDeviceRemoved: the calling device was revoked from the account's
	// device list; the client must re-authenticate.
	ErrDeviceRemoved = errors.New("device removed from account")

	ErrDeviceNotFound = errors.New("device not found")
)

// accountStore is the slice of the accounts service the arbiter needs.
type accountStore interface {
	Get(ctx context.Context, id string) (models.Account, error)
	SaveDevices(ctx context.Context, accountID string, devices []models.Device, activeStreamDeviceID string) error
	SwapActiveStreamDevice(ctx context.Context, accountID string, devices []models.Device, expected, next string) error
}

var _ accountStore = (*accounts.Service)(nil)

// Service arbitrates the per-account streaming slot: at most one device per
// account is considered the active player at a time, with TTL-based
// reclamation of sessions that died without releasing the slot.
type Service struct {
	store      accountStore
	maxDevices int
	streamTTL  time.Duration
}

// NewService constructs the arbiter. Zero values fall back to the defaults
// (3 devices, 90s TTL).
func NewService(store accountStore, maxDevices int, streamTTL time.Duration) *Service {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	if streamTTL <= 0 {
		streamTTL = DefaultStreamTTL
	}
	return &Service{store: store, maxDevices: maxDevices, streamTTL: streamTTL}
}

// RegisterOrTouch ensures the calling device exists on the account and
// refreshes its liveness bookkeeping. New device ids beyond the registration
// cap fail with ErrDeviceLimitExceeded. As a side effect, streaming flags on
// devices whose heartbeat expired are cleared and persisted, keeping the
// document clean even when the surrounding request is later rejected.
func (s *Service) RegisterOrTouch(ctx context.Context, accountID, deviceID, deviceName, ip string) (models.Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return models.Device{}, ErrMissingDeviceID
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return models.Device{}, err
	}

	now := time.Now().UTC()
	device := account.FindDevice(deviceID)
	if device == nil {
		if len(account.Devices) >= s.maxDevices {
			return models.Device{}, ErrDeviceLimitExceeded
		}
		account.Devices = append(account.Devices, models.Device{
			DeviceID:   deviceID,
			DeviceName: deviceName,
			LastIP:     ip,
			LastActive: now,
		})
		device = &account.Devices[len(account.Devices)-1]
	} else {
		device.LastIP = ip
		device.LastActive = now
		if deviceName != "" {
			device.DeviceName = deviceName
		}
	}

	s.reclaimExpired(&account, now)

	if err := s.store.SaveDevices(ctx, accountID, account.Devices, account.ActiveStreamDeviceID); err != nil {
		return models.Device{}, err
	}

	return *device, nil
}

// AcquireStreamingSlot hands the streaming slot to the calling device unless
// another device on the account is streaming and still fresh. The handover is
// a compare-and-swap on the active-stream pointer: of two requests racing for
// the slot only one wins, the other fails with ErrDeviceLimitActive.
func (s *Service) AcquireStreamingSlot(ctx context.Context, accountID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDeviceID
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for i := range account.Devices {
		d := &account.Devices[i]
		if d.DeviceID == deviceID {
			continue
		}
		if Classify(now, d.LastActive, d.IsStreaming, s.streamTTL) == StateStreaming {
			return ErrDeviceLimitActive
		}
	}

	expected := account.ActiveStreamDeviceID
	for i := range account.Devices {
		account.Devices[i].IsStreaming = account.Devices[i].DeviceID == deviceID
	}

	err = s.store.SwapActiveStreamDevice(ctx, accountID, account.Devices, expected, deviceID)
	if errors.Is(err, accounts.ErrActiveDeviceChanged) {
		log.Printf("[devices] slot acquisition lost race on account %s (device %s)", accountID, deviceID)
		return ErrDeviceLimitActive
	}
	if err != nil {
		return fmt.Errorf("acquire streaming slot: %w", err)
	}
	return nil
}

// ReleaseStreamingSlot idempotently gives up the slot for the given device.
// It succeeds even when the device never held the slot or is unknown.
func (s *Service) ReleaseStreamingSlot(ctx context.Context, accountID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDeviceID
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device := account.FindDevice(deviceID); device != nil {
		device.IsStreaming = false
		device.LastActive = now
	}
	if account.ActiveStreamDeviceID == deviceID {
		account.ActiveStreamDeviceID = ""
	}

	return s.store.SaveDevices(ctx, accountID, account.Devices, account.ActiveStreamDeviceID)
}

// CheckLiveness is the recurring heartbeat from an active player. It touches
// the calling device, rejects devices that were revoked (ErrDeviceRemoved) or
// locked out by a fresh streaming session elsewhere (ErrDeviceLimitActive),
// and self-heals a stale active-stream pointer by clearing all streaming
// flags. Accounts with no devices at all auto-register the caller, which
// bootstraps accounts created before device tracking existed.
func (s *Service) CheckLiveness(ctx context.Context, accountID, deviceID, ip string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDeviceID
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if len(account.Devices) == 0 {
		account.Devices = append(account.Devices, models.Device{
			DeviceID:   deviceID,
			LastIP:     ip,
			LastActive: now,
		})
		return s.store.SaveDevices(ctx, accountID, account.Devices, account.ActiveStreamDeviceID)
	}

	device := account.FindDevice(deviceID)
	if device == nil {
		return ErrDeviceRemoved
	}

	device.LastActive = now
	if ip != "" {
		device.LastIP = ip
	}

	active := account.FindDevice(account.ActiveStreamDeviceID)
	activeState := StateIdle
	if active != nil {
		activeState = Classify(now, active.LastActive, active.IsStreaming, s.streamTTL)
	}

	if active != nil && active.DeviceID != deviceID && activeState == StateStreaming {
		return ErrDeviceLimitActive
	}

	if active == nil || activeState != StateStreaming {
		// The recorded holder is gone, stale or not actually streaming:
		// clear the pointer and every flag so the next acquisition starts
		// from a clean document.
		account.ActiveStreamDeviceID = ""
		for i := range account.Devices {
			account.Devices[i].IsStreaming = false
		}
	}

	return s.store.SaveDevices(ctx, accountID, account.Devices, account.ActiveStreamDeviceID)
}

// ListDevices returns the account's registered devices.
func (s *Service) ListDevices(ctx context.Context, accountID string) ([]models.Device, string, error) {
	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	return account.Devices, account.ActiveStreamDeviceID, nil
}

// RemoveDevice revokes a device from the account. The revocation takes
// effect on the device's next heartbeat, which then fails with
// ErrDeviceRemoved.
func (s *Service) RemoveDevice(ctx context.Context, accountID, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrMissingDeviceID
	}

	account, err := s.store.Get(ctx, accountID)
	if err != nil {
		return err
	}

	kept := account.Devices[:0]
	found := false
	for _, d := range account.Devices {
		if d.DeviceID == deviceID {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return ErrDeviceNotFound
	}

	account.Devices = kept
	if account.ActiveStreamDeviceID == deviceID {
		account.ActiveStreamDeviceID = ""
	}

	return s.store.SaveDevices(ctx, accountID, account.Devices, account.ActiveStreamDeviceID)
}

func (s *Service) reclaimExpired(account *models.Account, now time.Time) {
	for i := range account.Devices {
		d := &account.Devices[i]
		if Classify(now, d.LastActive, d.IsStreaming, s.streamTTL) == StateExpired {
			d.IsStreaming = false
			if account.ActiveStreamDeviceID == d.DeviceID {
				account.ActiveStreamDeviceID = ""
			}
		}
	}
}
