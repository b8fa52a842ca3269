// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements user.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/user"
)

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, username, email, password_hash, email_verified,
	email_verification_token, email_verification_expires_at,
	password_reset_token, password_reset_expires_at,
	email_reset_token, email_reset_expires_at, pending_email,
	ref_code, ref_from, api_key, role, permission, img, last_ip,
	username_changed_at, created_at, updated_at`

// UserRepository implements user.Repository using PostgreSQL.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`,
		u.ID.String(),
		u.Username,
		u.Email,
		u.PasswordHash,
		u.EmailVerified,
		nullable(u.EmailVerificationToken),
		u.EmailVerificationExpiresAt,
		nullable(u.PasswordResetToken),
		u.PasswordResetExpiresAt,
		nullable(u.EmailResetToken),
		u.EmailResetExpiresAt,
		nullable(u.PendingEmail),
		u.RefCode,
		nullable(u.RefFrom),
		u.APIKey,
		u.Role,
		u.Permission,
		u.Img,
		u.LastIP,
		u.UsernameChangedAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "USER_CREATE_FAILED", "insert user", u)
	}
	return nil
}

// Update rewrites every mutable column of u.
func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users SET
			username = $2, email = $3, password_hash = $4, email_verified = $5,
			email_verification_token = $6, email_verification_expires_at = $7,
			password_reset_token = $8, password_reset_expires_at = $9,
			email_reset_token = $10, email_reset_expires_at = $11, pending_email = $12,
			ref_code = $13, ref_from = $14, api_key = $15, role = $16, permission = $17,
			img = $18, last_ip = $19, username_changed_at = $20, updated_at = $21
		WHERE id = $1
	`,
		u.ID.String(),
		u.Username,
		u.Email,
		u.PasswordHash,
		u.EmailVerified,
		nullable(u.EmailVerificationToken),
		u.EmailVerificationExpiresAt,
		nullable(u.PasswordResetToken),
		u.PasswordResetExpiresAt,
		nullable(u.EmailResetToken),
		u.EmailResetExpiresAt,
		nullable(u.PendingEmail),
		u.RefCode,
		nullable(u.RefFrom),
		u.APIKey,
		u.Role,
		u.Permission,
		u.Img,
		u.LastIP,
		u.UsernameChangedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err, "USER_UPDATE_FAILED", "update user", u)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", u.ID.String()).Wrap(user.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*user.User, error) {
	row := r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String())
	return r.scanOne(row, "id", id.String())
}

// GetByUsernameOrEmail matches identifier against username or email.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*user.User, error) {
	needle := strings.ToLower(identifier)
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR email = $1 LIMIT 1`, needle)
	return r.scanOne(row, "identifier", needle)
}

// GetByField retrieves a user by equality on a lookup field.
func (r *UserRepository) GetByField(ctx context.Context, field user.Field, value string) (*user.User, error) {
	column, err := columnFor(field)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, userColumns, column), value)
	return r.scanOne(row, "field", string(field))
}

// Exists reports whether any user has value in field.
func (r *UserRepository) Exists(ctx context.Context, field user.Field, value string) (bool, error) {
	column, err := columnFor(field)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.db.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM users WHERE %s = $1)`, column), value).
		Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_FAILED").
			With("operation", "check user field").
			With("field", string(field)).
			Wrap(err)
	}
	return exists, nil
}

func (r *UserRepository) scanOne(row pgx.Row, key, value string) (*user.User, error) {
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With(key, value).Wrap(user.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get user").With(key, value).Wrap(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u                                  user.User
		id                                 string
		evToken, prToken, erToken, pending *string
		refFrom                            *string
		evExpires, prExpires, erExpires    *time.Time
		usernameChangedAt                  *time.Time
	)
	err := row.Scan(
		&id, &u.Username, &u.Email, &u.PasswordHash, &u.EmailVerified,
		&evToken, &evExpires,
		&prToken, &prExpires,
		&erToken, &erExpires, &pending,
		&u.RefCode, &refFrom, &u.APIKey, &u.Role, &u.Permission, &u.Img, &u.LastIP,
		&usernameChangedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", id).Wrap(err)
	}
	u.ID = parsed
	u.EmailVerificationToken = deref(evToken)
	u.EmailVerificationExpiresAt = evExpires
	u.PasswordResetToken = deref(prToken)
	u.PasswordResetExpiresAt = prExpires
	u.EmailResetToken = deref(erToken)
	u.EmailResetExpiresAt = erExpires
	u.PendingEmail = deref(pending)
	u.RefFrom = deref(refFrom)
	u.UsernameChangedAt = usernameChangedAt
	return &u, nil
}

// columnFor maps a lookup field to its column. Only whitelisted fields are
// ever interpolated into SQL.
func columnFor(field user.Field) (string, error) {
	if !field.Valid() {
		return "", oops.Code("USER_INVALID_FIELD").With("field", string(field)).Errorf("unsupported lookup field")
	}
	return string(field), nil
}

func mapWriteError(err error, code, operation string, u *user.User) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("USER_DUPLICATE").
			With("constraint", pgErr.ConstraintName).
			With("username", u.Username).
			Wrap(user.ErrDuplicate)
	}
	return oops.Code(code).
		With("operation", operation).
		With("id", u.ID.String()).
		Wrap(err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
