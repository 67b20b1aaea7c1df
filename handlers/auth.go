package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streamgate/models"
	"streamgate/services/accounts"
)

const tokenLifetime = 7 * 24 * time.Hour

type credentialVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (models.Account, error)
}

var _ credentialVerifier = (*accounts.Service)(nil)

// AuthHandler issues the bearer tokens the stream endpoints require.
type AuthHandler struct {
	accounts credentialVerifier
	secret   func() string
}

func NewAuthHandler(accountsSvc credentialVerifier, secret func() string) *AuthHandler {
	return &AuthHandler{accounts: accountsSvc, secret: secret}
}

// Login verifies email+password and answers with a signed token plus the
// public account fields.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	account, err := h.accounts.VerifyPassword(r.Context(), body.Email, body.Password)
	if errors.Is(err, accounts.ErrPasswordInvalid) {
		writeError(w, http.StatusUnauthorized, "", "Invalid email or password")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", "Server error")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   account.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	})

	signed, err := token.SignedString([]byte(h.secret()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":   signed,
		"account": account,
	})
}
