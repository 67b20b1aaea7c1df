package handlers

import (
	"context"
	"errors"
	"net/http"

	"streamgate/models"
	"streamgate/services/accounts"
	"streamgate/services/devices"
)

// User-facing arbitration messages, kept bilingual because the player UI
// shows them verbatim.
const (
	msgDeviceLimit   = "Өөр төхөөрөмж дээр кино тоглож байна. Нэг аккаунтаар зэрэг хоёр төхөөрөмж дээр үзэх боломжгүй. / Another device is currently playing on this account."
	msgRegisterLimit = "Таны аккаунтад 3 төхөөрөмж бүртгэгдсэн байна. Дахин нэмэх боломжгүй. / This account already has the maximum number of registered devices."
	msgDeviceRemoved = "Таны энэ төхөөрөмжийг идэвхтэй төхөөрөмжийн жагсаалтаас устгасан тул дахин нэвтэрнэ үү. / This device was removed from the account, please sign in again."
)

type deviceArbiter interface {
	RegisterOrTouch(ctx context.Context, accountID, deviceID, deviceName, ip string) (models.Device, error)
	AcquireStreamingSlot(ctx context.Context, accountID, deviceID string) error
	ReleaseStreamingSlot(ctx context.Context, accountID, deviceID string) error
	CheckLiveness(ctx context.Context, accountID, deviceID, ip string) error
}

var _ deviceArbiter = (*devices.Service)(nil)

// StreamHandler serves the playback gate, heartbeat and stop endpoints.
type StreamHandler struct {
	arbiter deviceArbiter
}

func NewStreamHandler(arbiter deviceArbiter) *StreamHandler {
	return &StreamHandler{arbiter: arbiter}
}

// Start gates playback: it registers/touches the calling device, then takes
// the streaming slot. Reaching the 200 means the subscription middleware and
// the arbiter both let the request through.
func (h *StreamHandler) Start(w http.ResponseWriter, r *http.Request) {
	accountID := AccountID(r)
	deviceID := r.Header.Get(HeaderDeviceID)
	deviceName := r.Header.Get(HeaderDeviceName)
	if deviceName == "" {
		deviceName = "Unknown Device"
	}

	if _, err := h.arbiter.RegisterOrTouch(r.Context(), accountID, deviceID, deviceName, clientIP(r)); err != nil {
		writeArbiterError(w, err)
		return
	}

	if err := h.arbiter.AcquireStreamingSlot(r.Context(), accountID, deviceID); err != nil {
		writeArbiterError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Status is the recurring heartbeat from the active player. A DEVICE_REMOVED
// answer tells the client to force a logout; DEVICE_LIMIT tells it another
// device took over.
func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	err := h.arbiter.CheckLiveness(r.Context(), AccountID(r), r.Header.Get(HeaderDeviceID), clientIP(r))
	if err != nil {
		writeArbiterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Stop releases the streaming slot when the player leaves the page. The
// release is idempotent, so repeated stops are harmless.
func (h *StreamHandler) Stop(w http.ResponseWriter, r *http.Request) {
	err := h.arbiter.ReleaseStreamingSlot(r.Context(), AccountID(r), r.Header.Get(HeaderDeviceID))
	if err != nil {
		writeArbiterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeArbiterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrMissingDeviceID):
		writeError(w, http.StatusBadRequest, "NO_DEVICE_ID", "Device ID is required.")
	case errors.Is(err, devices.ErrDeviceLimitExceeded):
		writeError(w, http.StatusForbidden, "DEVICE_REGISTER_LIMIT", msgRegisterLimit)
	case errors.Is(err, devices.ErrDeviceLimitActive):
		writeError(w, http.StatusForbidden, "DEVICE_LIMIT", msgDeviceLimit)
	case errors.Is(err, devices.ErrDeviceRemoved):
		writeError(w, http.StatusForbidden, "DEVICE_REMOVED", msgDeviceRemoved)
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "", "Account not found")
	default:
		writeError(w, http.StatusInternalServerError, "", "Server error")
	}
}
