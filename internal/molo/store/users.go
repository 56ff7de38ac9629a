package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned by GetUser when no record exists for the given
// WhatsApp ID. Callers use errors.Is to distinguish "new user" from real
// database failures.
var ErrUserNotFound = errors.New("user not found")

// User represents a conversational participant.
type User struct {
	WhatsAppID        string
	PreferredLanguage string
	PopiaConsent      bool
	CurrentBundle     sql.NullString
	CreatedAt         time.Time
	LastActiveAt      time.Time
}

// GetUser retrieves a user by WhatsApp ID.
func (s *Store) GetUser(ctx context.Context, whatsappID string) (*User, error) {
	user := &User{}
	var consent int
	err := s.db.QueryRowContext(ctx, `
		SELECT whatsapp_id, preferred_language, popia_consent, current_bundle, created_at, last_active_at
		FROM users
		WHERE whatsapp_id = ?
	`, whatsappID).Scan(
		&user.WhatsAppID, &user.PreferredLanguage, &consent,
		&user.CurrentBundle, &user.CreatedAt, &user.LastActiveAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.PopiaConsent = consent != 0
	return user, nil
}

// CreateUser inserts a new user record. Called on the first-ever inbound
// message from an unseen WhatsApp ID.
func (s *Store) CreateUser(ctx context.Context, whatsappID, preferredLanguage string, popiaConsent bool) (*User, error) {
	now := time.Now()
	consent := 0
	if popiaConsent {
		consent = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (whatsapp_id, preferred_language, popia_consent, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
	`, whatsappID, preferredLanguage, consent, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return &User{
		WhatsAppID:        whatsappID,
		PreferredLanguage: preferredLanguage,
		PopiaConsent:      popiaConsent,
		CreatedAt:         now,
		LastActiveAt:      now,
	}, nil
}

// ProvisionUser inserts a user on behalf of an administrator (QR onboarding
// simulation). This is the elevated path: the acting party is the admin, not
// the target identity, so it bypasses the per-user flow entirely and always
// creates with default consent=false.
func (s *Store) ProvisionUser(ctx context.Context, whatsappID, preferredLanguage string) (*User, error) {
	return s.CreateUser(ctx, whatsappID, preferredLanguage, false)
}

// TouchUser updates a user's last_active_at timestamp. Called for every
// inbound message from an existing user.
func (s *Store) TouchUser(ctx context.Context, whatsappID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_active_at = ? WHERE whatsapp_id = ?
	`, time.Now(), whatsappID)
	if err != nil {
		return fmt.Errorf("failed to touch user: %w", err)
	}
	return nil
}

// UpdateUserLanguage sets a user's preferred language.
func (s *Store) UpdateUserLanguage(ctx context.Context, whatsappID, lang string) error {
	return s.updateUserField(ctx, whatsappID, "preferred_language", lang)
}

// UpdateUserConsent sets a user's POPIA consent flag.
func (s *Store) UpdateUserConsent(ctx context.Context, whatsappID string, consent bool) error {
	v := 0
	if consent {
		v = 1
	}
	return s.updateUserField(ctx, whatsappID, "popia_consent", v)
}

// UpdateUserBundle sets a user's selected service bundle.
func (s *Store) UpdateUserBundle(ctx context.Context, whatsappID, bundleID string) error {
	return s.updateUserField(ctx, whatsappID, "current_bundle", bundleID)
}

// updateUserField updates a single column and refreshes last_active_at.
func (s *Store) updateUserField(ctx context.Context, whatsappID, column string, value any) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE users SET %s = ?, last_active_at = ? WHERE whatsapp_id = ?", column),
		value, time.Now(), whatsappID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// HardDeleteUser removes a user and all dependent records in a single
// transaction. The DATA_DELETE_COMPLETED security log entry is written by the
// caller afterwards so the completion event itself survives the purge.
func (s *Store) HardDeleteUser(ctx context.Context, whatsappID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}

	for _, stmt := range []string{
		"DELETE FROM message_logs WHERE whatsapp_id = ?",
		"DELETE FROM security_logs WHERE whatsapp_id = ?",
		"DELETE FROM users WHERE whatsapp_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, whatsappID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete user data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user deletion: %w", err)
	}
	return nil
}

// UserCount returns the number of registered users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
