package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamgate/models"
	"streamgate/services/devices"
)

type fakeArbiter struct {
	registerErr error
	acquireErr  error
	releaseErr  error
	livenessErr error

	registered string
	acquired   string
	released   string
}

func (f *fakeArbiter) RegisterOrTouch(ctx context.Context, accountID, deviceID, deviceName, ip string) (models.Device, error) {
	f.registered = deviceID
	return models.Device{DeviceID: deviceID, DeviceName: deviceName}, f.registerErr
}

func (f *fakeArbiter) AcquireStreamingSlot(ctx context.Context, accountID, deviceID string) error {
	f.acquired = deviceID
	return f.acquireErr
}

func (f *fakeArbiter) ReleaseStreamingSlot(ctx context.Context, accountID, deviceID string) error {
	f.released = deviceID
	return f.releaseErr
}

func (f *fakeArbiter) CheckLiveness(ctx context.Context, accountID, deviceID, ip string) error {
	return f.livenessErr
}

func authedRequest(method, target, deviceID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(HeaderDeviceID, deviceID)
	ctx := context.WithValue(req.Context(), accountIDKey, "acc-1")
	return req.WithContext(ctx)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body apiError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestStreamStart(t *testing.T) {
	arbiter := &fakeArbiter{}
	h := NewStreamHandler(arbiter)

	rec := httptest.NewRecorder()
	h.Start(rec, authedRequest(http.MethodGet, "/api/movies/1/stream", "d1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if arbiter.registered != "d1" || arbiter.acquired != "d1" {
		t.Fatalf("arbiter calls: registered=%q acquired=%q", arbiter.registered, arbiter.acquired)
	}
}

func TestStreamStartErrorCodes(t *testing.T) {
	cases := []struct {
		name       string
		arbiter    *fakeArbiter
		wantStatus int
		wantCode   string
	}{
		{"missing device id", &fakeArbiter{registerErr: devices.ErrMissingDeviceID}, http.StatusBadRequest, "NO_DEVICE_ID"},
		{"register limit", &fakeArbiter{registerErr: devices.ErrDeviceLimitExceeded}, http.StatusForbidden, "DEVICE_REGISTER_LIMIT"},
		{"slot taken", &fakeArbiter{acquireErr: devices.ErrDeviceLimitActive}, http.StatusForbidden, "DEVICE_LIMIT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewStreamHandler(tc.arbiter)
			rec := httptest.NewRecorder()
			h.Start(rec, authedRequest(http.MethodGet, "/api/movies/1/stream", "d1"))

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if body := decodeError(t, rec); body.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, tc.wantCode)
			}
		})
	}
}

func TestStreamStatus(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := NewStreamHandler(&fakeArbiter{})
		rec := httptest.NewRecorder()
		h.Status(rec, authedRequest(http.MethodGet, "/api/movies/1/stream/status", "d1"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("device removed", func(t *testing.T) {
		h := NewStreamHandler(&fakeArbiter{livenessErr: devices.ErrDeviceRemoved})
		rec := httptest.NewRecorder()
		h.Status(rec, authedRequest(http.MethodGet, "/api/movies/1/stream/status", "d1"))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
		if body := decodeError(t, rec); body.Code != "DEVICE_REMOVED" {
			t.Fatalf("code = %q, want DEVICE_REMOVED", body.Code)
		}
	})

	t.Run("another device streaming", func(t *testing.T) {
		h := NewStreamHandler(&fakeArbiter{livenessErr: devices.ErrDeviceLimitActive})
		rec := httptest.NewRecorder()
		h.Status(rec, authedRequest(http.MethodGet, "/api/movies/1/stream/status", "d1"))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
		if body := decodeError(t, rec); body.Code != "DEVICE_LIMIT" {
			t.Fatalf("code = %q, want DEVICE_LIMIT", body.Code)
		}
	})
}

func TestStreamStop(t *testing.T) {
	arbiter := &fakeArbiter{}
	h := NewStreamHandler(arbiter)

	rec := httptest.NewRecorder()
	h.Stop(rec, authedRequest(http.MethodPost, "/api/movies/1/stream/stop", "d1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if arbiter.released != "d1" {
		t.Fatalf("released = %q, want d1", arbiter.released)
	}
}
