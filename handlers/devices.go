package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"streamgate/models"
	"streamgate/services/accounts"
	"streamgate/services/devices"
)

type deviceManager interface {
	ListDevices(ctx context.Context, accountID string) ([]models.Device, string, error)
	RemoveDevice(ctx context.Context, accountID, deviceID string) error
}

var _ deviceManager = (*devices.Service)(nil)

// DevicesHandler exposes the account's device manager: listing registered
// devices and revoking one. A revoked device is kicked on its next
// heartbeat.
type DevicesHandler struct {
	manager deviceManager
}

func NewDevicesHandler(manager deviceManager) *DevicesHandler {
	return &DevicesHandler{manager: manager}
}

func (h *DevicesHandler) List(w http.ResponseWriter, r *http.Request) {
	list, activeID, err := h.manager.ListDevices(r.Context(), AccountID(r))
	if err != nil {
		writeDeviceManagerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":              list,
		"activeStreamDeviceId": activeID,
		"currentDeviceId":      r.Header.Get(HeaderDeviceID),
	})
}

func (h *DevicesHandler) Remove(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(mux.Vars(r)["deviceID"])
	if err := h.manager.RemoveDevice(r.Context(), AccountID(r), deviceID); err != nil {
		writeDeviceManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeDeviceManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrMissingDeviceID):
		writeError(w, http.StatusBadRequest, "NO_DEVICE_ID", "Device ID is required.")
	case errors.Is(err, devices.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, "", "Device not found")
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "", "Account not found")
	default:
		writeError(w, http.StatusInternalServerError, "", "Server error")
	}
}
