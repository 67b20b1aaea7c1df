package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streamgate/models"
	"streamgate/services/accounts"
)

// HeaderDeviceID carries the client-generated opaque device identifier that
// every stream endpoint requires.
const (
	HeaderDeviceID   = "x-device-id"
	HeaderDeviceName = "x-device-name"
)

type contextKey string

const accountIDKey contextKey = "accountID"

// AccountID returns the authenticated account id stored by the auth
// middleware, or "" when the request is unauthenticated.
func AccountID(r *http.Request) string {
	id, _ := r.Context().Value(accountIDKey).(string)
	return id
}

type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[http] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// AuthMiddleware validates HS256 bearer tokens and stashes the account id in
// the request context. The secret is read per request so hot reloads of the
// config take effect without a restart.
type AuthMiddleware struct {
	secret func() string
}

func NewAuthMiddleware(secret func() string) *AuthMiddleware {
	return &AuthMiddleware{secret: secret}
}

// Wrap rejects requests without a valid bearer token.
func (m *AuthMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
			return
		}

		token, err := jwt.Parse(strings.TrimSpace(raw), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(m.secret()), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token")
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token subject")
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, subject)
		next(w, r.WithContext(ctx))
	}
}

// SubscriptionMiddleware gates endpoints behind an active subscription.
// Expired subscriptions are downgraded lazily on first observation instead
// of by a background job.
type SubscriptionMiddleware struct {
	accounts *accounts.Service
}

func NewSubscriptionMiddleware(accountsSvc *accounts.Service) *SubscriptionMiddleware {
	return &SubscriptionMiddleware{accounts: accountsSvc}
}

func (m *SubscriptionMiddleware) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, err := m.accounts.Get(r.Context(), AccountID(r))
		if errors.Is(err, accounts.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "", "Account not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "", "Server error")
			return
		}

		if account.SubscriptionActive && account.SubscriptionExpiredAt(time.Now()) {
			account.SubscriptionActive = false
			account.SubscriptionStatus = models.SubscriptionExpired
			if err := m.accounts.SetSubscription(r.Context(), account.ID, false, models.SubscriptionExpired, account.SubscriptionPlan, account.SubscriptionExpiresAt); err != nil {
				log.Printf("[subscription] downgrade of %s failed: %v", account.ID, err)
			}
		}

		if !account.SubscriptionActive {
			writeJSON(w, http.StatusForbidden, apiError{
				Code:    "SUBSCRIPTION_REQUIRED",
				Message: "Subscription required",
				Status:  string(account.SubscriptionStatus),
			})
			return
		}

		next(w, r)
	}
}

// clientIP prefers the first x-forwarded-for hop, matching what the device
// bookkeeping stores.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("x-forwarded-for"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
