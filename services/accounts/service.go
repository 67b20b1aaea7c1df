package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"streamgate/models"
)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrEmailTaken       = errors.New("email already registered")
	ErrAccountNotFound  = errors.New("account not found")
	ErrPasswordInvalid  = errors.New("invalid email or password")

	// ErrActiveDeviceChanged is returned by SwapActiveStreamDevice when the
	// guarded column no longer holds the expected value, i.e. a concurrent
	// request won the streaming slot first.
	ErrActiveDeviceChanged = errors.New("active stream device changed concurrently")
)

// Service persists subscriber accounts in the SQLite document store.
type Service struct {
	db *sql.DB
}

// NewService wraps the given database handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create registers a new account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, email, password string) (models.Account, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return models.Account{}, ErrEmailRequired
	}
	if strings.TrimSpace(password) == "" {
		return models.Account{}, ErrPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:                 uuid.NewString(),
		Email:              email,
		PasswordHash:       string(hash),
		SubscriptionStatus: models.SubscriptionInactive,
		SubscriptionPlan:   "none",
		Devices:            []models.Device{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, subscription_active, subscription_status,
			subscription_plan, subscription_expires_at, devices, active_stream_device_id, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, NULL, '[]', '', ?, ?)`,
		account.ID, account.Email, account.PasswordHash,
		account.SubscriptionStatus, account.SubscriptionPlan,
		account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.Account{}, ErrEmailTaken
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}

	return account, nil
}

// Get returns the account with the given id.
func (s *Service) Get(ctx context.Context, id string) (models.Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectAccount+" WHERE id = ?", strings.TrimSpace(id)))
}

// GetByEmail returns the account registered under the given email.
func (s *Service) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectAccount+" WHERE email = ?", models.NormalizeEmail(email)))
}

// VerifyPassword checks credentials and returns the matching account.
// Both unknown emails and wrong passwords yield ErrPasswordInvalid so the
// response does not leak which one was wrong.
func (s *Service) VerifyPassword(ctx context.Context, email, password string) (models.Account, error) {
	account, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return models.Account{}, ErrPasswordInvalid
	}
	if err != nil {
		return models.Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return models.Account{}, ErrPasswordInvalid
	}

	return account, nil
}

// SaveDevices overwrites the account's device list and active-stream pointer.
// This is the unguarded write used by liveness touches and releases, where
// last-writer-wins is acceptable.
func (s *Service) SaveDevices(ctx context.Context, accountID string, devices []models.Device, activeStreamDeviceID string) error {
	payload, err := marshalDevices(devices)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET devices = ?, active_stream_device_id = ?, updated_at = ?
		WHERE id = ?`,
		payload, activeStreamDeviceID, time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	return requireRow(res)
}

// SwapActiveStreamDevice atomically hands the streaming slot to next, but
// only while the active-stream pointer still holds expected. Two requests
// racing for the slot both observe the same expected value; the conditional
// UPDATE lets exactly one of them through and the loser gets
// ErrActiveDeviceChanged.
func (s *Service) SwapActiveStreamDevice(ctx context.Context, accountID string, devices []models.Device, expected, next string) error {
	payload, err := marshalDevices(devices)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET devices = ?, active_stream_device_id = ?, updated_at = ?
		WHERE id = ? AND active_stream_device_id = ?`,
		payload, next, time.Now().UTC(), accountID, expected,
	)
	if err != nil {
		return fmt.Errorf("swap active stream device: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap active stream device: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Distinguish a lost race from a missing account.
	if _, err := s.Get(ctx, accountID); err != nil {
		return err
	}
	return ErrActiveDeviceChanged
}

// SetSubscription updates the subscription fields, used by plan activation
// and the lazy downgrade of expired subscriptions.
func (s *Service) SetSubscription(ctx context.Context, accountID string, active bool, status models.SubscriptionStatus, plan string, expiresAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET subscription_active = ?, subscription_status = ?,
			subscription_plan = ?, subscription_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		active, status, plan, expiresAt, time.Now().UTC(), accountID,
	)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return requireRow(res)
}

const selectAccount = `
	SELECT id, email, password_hash, subscription_active, subscription_status,
		subscription_plan, subscription_expires_at, devices, active_stream_device_id,
		created_at, updated_at
	FROM accounts`

func (s *Service) scanOne(row *sql.Row) (models.Account, error) {
	var (
		account    models.Account
		expiresAt  sql.NullTime
		devicesRaw string
	)

	err := row.Scan(
		&account.ID, &account.Email, &account.PasswordHash,
		&account.SubscriptionActive, &account.SubscriptionStatus,
		&account.SubscriptionPlan, &expiresAt, &devicesRaw,
		&account.ActiveStreamDeviceID, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		account.SubscriptionExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(devicesRaw), &account.Devices); err != nil {
		return models.Account{}, fmt.Errorf("decode devices: %w", err)
	}
	if account.Devices == nil {
		account.Devices = []models.Device{}
	}

	return account, nil
}

func marshalDevices(devices []models.Device) (string, error) {
	if devices == nil {
		devices = []models.Device{}
	}
	payload, err := json.Marshal(devices)
	if err != nil {
		return "", fmt.Errorf("encode devices: %w", err)
	}
	return string(payload), nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
