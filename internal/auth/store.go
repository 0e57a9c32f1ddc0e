// Package auth registers users and verifies them with time-based one-time
// codes. Each user gets a TOTP secret at registration; requests prove
// identity with the current code.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"coinfeed/internal/model"
	"coinfeed/internal/store/sqldb"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrUnauthorized covers unknown users and wrong codes alike.
var ErrUnauthorized = errors.New("invalid username or code")

const DefaultIssuer = "coinfeed"

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{3,150}$`)

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Store persists users in the SQL database.
type Store struct {
	db     *sqldb.DB
	issuer string
	now    func() time.Time
}

func NewStore(db *sqldb.DB, issuer string) *Store {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Store{db: db, issuer: issuer, now: time.Now}
}

// Create registers username and returns the user with an otpauth:// URL for
// enrolling an authenticator app.
func (s *Store) Create(ctx context.Context, username string) (*model.User, string, error) {
	if !usernameRe.MatchString(username) {
		return nil, "", &model.ValidationError{Field: "username", Value: username}
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: username})
	if err != nil {
		return nil, "", fmt.Errorf("generate totp secret: %w", err)
	}

	u := &model.User{
		ID:         uuid.NewString(),
		Username:   username,
		TOTPSecret: key.Secret(),
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (id, username, totp_secret, created_at) VALUES (?, ?, ?, ?)`),
		u.ID, u.Username, u.TOTPSecret, u.CreatedAt.UnixMilli())
	if sqldb.IsUniqueViolation(err) {
		return nil, "", model.ErrDuplicate
	}
	if err != nil {
		return nil, "", fmt.Errorf("insert user: %w", err)
	}
	return u, key.URL(), nil
}

// ByUsername loads a user.
func (s *Store) ByUsername(ctx context.Context, username string) (*model.User, error) {
	var (
		u  model.User
		ts int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, username, totp_secret, created_at FROM users WHERE username = ?`), username).
		Scan(&u.ID, &u.Username, &u.TOTPSecret, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(ts).UTC()
	return &u, nil
}

// Authenticate returns the user when code is valid for the current time step
// (one step of clock skew either way).
func (s *Store) Authenticate(ctx context.Context, username, code string) (*model.User, error) {
	if username == "" || code == "" {
		return nil, ErrUnauthorized
	}
	u, err := s.ByUsername(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	ok, err := totp.ValidateCustom(code, u.TOTPSecret, s.now().UTC(), validateOpts)
	if err != nil || !ok {
		return nil, ErrUnauthorized
	}
	return u, nil
}

type ctxKey struct{}

// WithUser attaches an authenticated user to ctx.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the user attached by WithUser.
func UserFrom(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*model.User)
	return u, ok && u != nil
}
