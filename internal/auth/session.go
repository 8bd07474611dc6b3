// Package auth issues, verifies and revokes back-office sessions and exposes
// the account permission snapshot used to guard endpoints.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb"
)

// DefaultSessionTTL is how long a session stays usable after sign-in.
const DefaultSessionTTL = 864000000 * time.Millisecond

var tracer = otel.Tracer("stexcore.dev/hub/internal/auth")

// Service owns the sessions table and the token codec.
type Service struct {
	db    *sqldb.DB
	codec *TokenCodec
	now   func() time.Time
	ttl   time.Duration
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithClock overrides the time source for session expiry and token claims.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService builds the auth service. key signs session tokens.
func NewService(db *sqldb.DB, key string, opts ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, errors.New("auth: database is required")
	}
	s := &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
		ttl: DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = NewTokenCodec(key, s.now)
	return s, nil
}

// SignIn resolves the account owning email, checks the password and opens a
// new session.
func (s *Service) SignIn(ctx context.Context, email, password string) (info SessionInfo, err error) {
	ctx, span := tracer.Start(ctx, "auth.SignIn")
	defer func() { endSpan(span, err) }()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		obs.SignInFailures.WithLabelValues("invalid_input").Inc()
		return SessionInfo{}, ErrInvalidCredentials
	}

	var entityID int64
	err = s.db.QueryRowContext(ctx, `select entity_id from emails where email_address = ?`, email).Scan(&entityID)
	if errors.Is(err, sql.ErrNoRows) {
		obs.SignInFailures.WithLabelValues("unknown_email").Inc()
		return SessionInfo{}, ErrInvalidCredentials
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("lookup email: %w", err)
	}

	rec, err := loadAccount(ctx, s.db, "entity_id", entityID)
	if errors.Is(err, errNoAccount) {
		obs.SignInFailures.WithLabelValues("no_account").Inc()
		return SessionInfo{}, ErrInvalidCredentials
	}
	if err != nil {
		return SessionInfo{}, err
	}
	if VerifyPassword(rec.PasswordHash, password) != nil {
		obs.SignInFailures.WithLabelValues("bad_password").Inc()
		return SessionInfo{}, ErrInvalidCredentials
	}
	if !rec.Enabled {
		obs.SignInFailures.WithLabelValues("disabled").Inc()
		return SessionInfo{}, ErrAccountDisabled
	}

	now := s.now()
	expireAt := now.Add(s.ttl)
	tokenUUID := uuid.NewString()

	var sessionID int64
	err = s.db.QueryRowContext(ctx, `
		insert into sessions (account_id, token_uuid, locked, expire_at, created_at)
		values (?, ?, ?, ?, ?)
		returning id
	`, rec.ID, tokenUUID, false, expireAt, now).Scan(&sessionID)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("insert session: %w", err)
	}

	token, err := s.codec.Sign(rec.ID, sessionID, tokenUUID, expireAt)
	if err != nil {
		return SessionInfo{}, err
	}
	obs.SessionsIssued.Inc()
	return rec.session(sessionID, token, tokenUUID), nil
}

// SessionByToken verifies token and returns the live session behind it. A
// valid token whose session is locked, expired or unknown yields ok=false.
func (s *Service) SessionByToken(ctx context.Context, token string) (info SessionInfo, ok bool, err error) {
	ctx, span := tracer.Start(ctx, "auth.SessionByToken")
	defer func() { endSpan(span, err) }()

	claims, err := s.codec.Parse(token)
	if err != nil {
		return SessionInfo{}, false, err
	}

	var (
		accountID int64
		expireAt  time.Time
	)
	err = s.db.QueryRowContext(ctx, `
		select account_id, expire_at from sessions
		where id = ? and token_uuid = ? and locked = ?
	`, claims.SessionID, claims.TokenUUID, false).Scan(&accountID, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, false, nil
	}
	if err != nil {
		return SessionInfo{}, false, fmt.Errorf("select session: %w", err)
	}
	if !s.now().Before(expireAt) {
		return SessionInfo{}, false, nil
	}

	rec, err := loadAccount(ctx, s.db, "id", accountID)
	if errors.Is(err, errNoAccount) {
		return SessionInfo{}, false, ErrInvalidCredentials
	}
	if err != nil {
		return SessionInfo{}, false, err
	}
	if !rec.Enabled {
		return SessionInfo{}, false, ErrAccountDisabled
	}
	return rec.session(claims.SessionID, token, claims.TokenUUID), true, nil
}

// Logout locks the session behind token. Locked sessions never resolve again.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	info, ok, err := s.SessionByToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return s.lock(ctx, info)
}

func (s *Service) lock(ctx context.Context, info SessionInfo) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set locked = ?
		where id = ? and token_uuid = ? and account_id = ? and locked = ?
	`, true, info.SessionID, info.tokenUUID, info.ID, false)
	if err != nil {
		return fmt.Errorf("lock session %d: %w", info.SessionID, err)
	}
	if sqldb.Affected(res) == 0 {
		return ErrInvalidCredentials
	}
	return nil
}

// ListRoles returns the role catalog with grouped permissions, ordered by id.
func (s *Service) ListRoles(ctx context.Context) ([]RoleInfo, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, description from roles order by id`)
	if err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	roles := []RoleInfo{}
	var ids []int64
	for rows.Next() {
		var r RoleInfo
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	grants, err := roleGrants(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		roles[i].Modules = GroupGrants(grants[roles[i].ID])
	}
	return roles, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrAccountDisabled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
