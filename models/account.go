package models

import (
	"strings"
	"time"
)

// MaxDevicesPerAccount caps how many devices may be registered at once.
const MaxDevicesPerAccount = 3

// SubscriptionStatus mirrors the lifecycle of a paid subscription.
type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Device is a client endpoint registered against an account. Identity is the
// client-supplied opaque device id; everything else is bookkeeping refreshed
// on each authenticated request.
type Device struct {
	DeviceID    string    `json:"deviceId"`
	DeviceName  string    `json:"deviceName,omitempty"`
	LastIP      string    `json:"lastIP,omitempty"`
	LastActive  time.Time `json:"lastActive"`
	IsStreaming bool      `json:"isStreaming"`
}

// Account is the persisted subscriber document. Devices are embedded; the
// denormalized ActiveStreamDeviceID points at the device currently holding
// the streaming slot (empty means nobody is streaming).
type Account struct {
	ID                    string             `json:"id"`
	Email                 string             `json:"email"`
	PasswordHash          string             `json:"-"`
	SubscriptionActive    bool               `json:"subscriptionActive"`
	SubscriptionStatus    SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionPlan      string             `json:"subscriptionPlan"`
	SubscriptionExpiresAt *time.Time         `json:"subscriptionExpiresAt,omitempty"`
	Devices               []Device           `json:"devices"`
	ActiveStreamDeviceID  string             `json:"activeStreamDeviceId,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// FindDevice returns a pointer into the account's device slice, or nil when
// the id is unknown.
func (a *Account) FindDevice(deviceID string) *Device {
	for i := range a.Devices {
		if a.Devices[i].DeviceID == deviceID {
			return &a.Devices[i]
		}
	}
	return nil
}

// SubscriptionExpired reports whether the subscription has a hard expiry in
// the past. Accounts without an expiry never expire this way.
func (a *Account) SubscriptionExpiredAt(now time.Time) bool {
	return a.SubscriptionExpiresAt != nil && now.After(*a.SubscriptionExpiresAt)
}

// NormalizeEmail lowercases and trims an email the same way the account store
// persists it, so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
