package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
)

// Credentials carries the secret material needed to authenticate a user.
// Never serialized into responses.
type Credentials struct {
	UserID          int64
	PasswordHash    string
	OTPHash         *string
	OTPExpiresAt    *time.Time
	EmailVerifiedAt *time.Time
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", email)

	var id int64
	sql := `insert into users (name, email, password_hash, created_at, updated_at)
			values ($1, $2, $3, now(), now()) returning id`
	err := s.db.QueryRow(ctx, sql, name, email, passwordHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrEmailTaken
		}
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", email, id)

	return id, nil
}

// UserByID returns the public shape of a user.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	sql := `select id, name, email, profile_picture, email_verified_at, created_at
			  from users where id = $1`
	err := s.db.QueryRow(ctx, sql, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePicture, &u.EmailVerifiedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}
	return u, nil
}

// UserByEmail returns the public shape of a user looked up by email.
func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	sql := `select id, name, email, profile_picture, email_verified_at, created_at
			  from users where email = $1`
	err := s.db.QueryRow(ctx, sql, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePicture, &u.EmailVerifiedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}
	return u, nil
}

// CredentialsByEmail returns authentication material for the given email.
func (s *Store) CredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	var c Credentials
	sql := `select id, password_hash, otp_hash, otp_expires_at, email_verified_at
			  from users where email = $1`
	err := s.db.QueryRow(ctx, sql, email).
		Scan(&c.UserID, &c.PasswordHash, &c.OTPHash, &c.OTPExpiresAt, &c.EmailVerifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, ErrUserNotExist
		}
		return Credentials{}, err
	}
	return c, nil
}

// SetOTP stores a fresh OTP hash with its expiry for the user.
func (s *Store) SetOTP(ctx context.Context, userID int64, otpHash string, expiresAt time.Time) error {
	sql := `update users set otp_hash = $2, otp_expires_at = $3, updated_at = now() where id = $1`
	tag, err := s.db.Exec(ctx, sql, userID, otpHash, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// MarkVerified records email verification and clears any pending OTP.
func (s *Store) MarkVerified(ctx context.Context, userID int64) error {
	sql := `update users
			   set email_verified_at = now(), otp_hash = null, otp_expires_at = null, updated_at = now()
			 where id = $1`
	tag, err := s.db.Exec(ctx, sql, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// UpsertGoogleUser finds or creates the account tied to a Google identity.
// Emails coming from Google are treated as verified. The second return value
// reports whether the account was created on this call.
func (s *Store) UpsertGoogleUser(ctx context.Context, googleID, name, email, passwordHash string) (User, bool, error) {
	s.logger.Debugf("Upserting google user (%s)", email)

	var u User
	var created bool
	sql := `insert into users (google_id, name, email, password_hash, email_verified_at, created_at, updated_at)
			values ($1, $2, $3, $4, now(), now(), now())
			on conflict (google_id) do update
			   set name = excluded.name, email = excluded.email, updated_at = now()
			returning id, name, email, profile_picture, email_verified_at, created_at,
					  (xmax = 0) as inserted`
	err := s.db.QueryRow(ctx, sql, googleID, name, email, passwordHash).
		Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePicture, &u.EmailVerifiedAt, &u.CreatedAt, &created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			// email already registered through the password flow
			return User{}, false, ErrEmailTaken
		}
		return User{}, false, err
	}
	return u, created, nil
}

// SearchUsers matches email substrings, excluding the caller.
func (s *Store) SearchUsers(ctx context.Context, query string, selfID int64) ([]User, error) {
	s.logger.Debugf("Searching users matching (%s) for user (id: %d)", query, selfID)

	sql := `select id, name, email, profile_picture, email_verified_at, created_at
			  from users
			 where email like '%' || $1 || '%' and id <> $2
			 order by email`
	rows, err := s.db.Query(ctx, sql, query, selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		err = rows.Scan(&u.ID, &u.Name, &u.Email, &u.ProfilePicture, &u.EmailVerifiedAt, &u.CreatedAt)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}
