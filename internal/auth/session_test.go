package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"stexcore.dev/hub/internal/accounts"
	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/store/sqldb"
	"stexcore.dev/hub/internal/store/sqldb/sqldbtest"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	db       *sqldb.DB
	auth     *auth.Service
	accounts *accounts.Service
	clock    *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := sqldbtest.NewSQLite(t)
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := auth.NewService(db, "test-key", auth.WithClock(c.Now))
	require.NoError(t, err)
	return fixture{
		db:       db,
		auth:     svc,
		accounts: accounts.NewService(db, entities.NewService(db), accounts.WithHashCost(bcrypt.MinCost), accounts.WithClock(c.Now)),
		clock:    c,
	}
}

func (f fixture) account(t *testing.T, username, email string, roleID int64, enabled bool) accounts.Account {
	t.Helper()
	acc, err := f.accounts.CreateAccount(context.Background(), accounts.CreateInput{
		Username: username,
		Password: "correct-horse",
		Enabled:  &enabled,
		RoleID:   roleID,
		Entity: &entities.Input{
			Name:            "Ana",
			Lastname:        "Pérez",
			Birthdate:       entities.NewDate(1990, time.July, 14),
			NationalID:      username + "-id",
			NationalityType: "V",
			Emails:          []string{email},
		},
	})
	require.NoError(t, err)
	return acc
}

func TestSignInIssuesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "ana", "ana@x.io", 2, true)

	info, err := f.auth.SignIn(ctx, "ana@x.io", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, info.ID)
	assert.NotZero(t, info.SessionID)
	assert.NotEmpty(t, info.Token)
	assert.Equal(t, "ana", info.Username)
	assert.Equal(t, acc.EntityID, info.Entity.ID)
	assert.Equal(t, "operator", info.Role.Name)
	assert.True(t, info.Can("entities", "create"))
	assert.False(t, info.Can("entities", "delete"))
	assert.False(t, info.Can("accounts", "create"))

	var (
		locked   bool
		expireAt time.Time
	)
	require.NoError(t, f.db.QueryRowContext(ctx,
		`select locked, expire_at from sessions where id = ?`, info.SessionID).Scan(&locked, &expireAt))
	assert.False(t, locked)
	assert.True(t, expireAt.Equal(f.clock.now.Add(auth.DefaultSessionTTL)), "expire_at = %v", expireAt)

	got, ok, err := f.auth.SessionByToken(ctx, info.Token)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info.SessionID, got.SessionID)
	assert.Equal(t, info.Role.Modules, got.Role.Modules)
}

func TestSignInRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "off", "off@x.io", 3, false)
	f.account(t, "on", "on@x.io", 3, true)

	_, err := f.auth.SignIn(ctx, "nobody@x.io", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.auth.SignIn(ctx, "on@x.io", "wrong-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.auth.SignIn(ctx, "off@x.io", "wrong-horse")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "password is checked before the enabled flag")

	_, err = f.auth.SignIn(ctx, "off@x.io", "correct-horse")
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)

	var n int
	require.NoError(t, f.db.QueryRowContext(ctx, `select count(*) from sessions`).Scan(&n))
	assert.Zero(t, n)
}

func TestLogoutLocksSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "bye", "bye@x.io", 1, true)

	first, err := f.auth.SignIn(ctx, "bye@x.io", "correct-horse")
	require.NoError(t, err)
	second, err := f.auth.SignIn(ctx, "bye@x.io", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, first.Token))

	_, ok, err := f.auth.SessionByToken(ctx, first.Token)
	require.NoError(t, err)
	assert.False(t, ok, "locked session no longer resolves")

	assert.ErrorIs(t, f.auth.Logout(ctx, first.Token), auth.ErrInvalidCredentials)

	_, ok, err = f.auth.SessionByToken(ctx, second.Token)
	require.NoError(t, err)
	assert.True(t, ok, "other sessions stay active")
}

func TestSessionByTokenExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "late", "late@x.io", 1, true)

	info, err := f.auth.SignIn(ctx, "late@x.io", "correct-horse")
	require.NoError(t, err)

	f.clock.now = f.clock.now.Add(auth.DefaultSessionTTL + time.Second)
	_, ok, err := f.auth.SessionByToken(ctx, info.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.False(t, ok)
}

func TestSessionByTokenAccountChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.account(t, "mut", "mut@x.io", 1, true)

	info, err := f.auth.SignIn(ctx, "mut@x.io", "correct-horse")
	require.NoError(t, err)

	disabled := false
	_, err = f.accounts.UpdateAccount(ctx, acc.ID, accounts.UpdateInput{Enabled: &disabled})
	require.NoError(t, err)
	_, _, err = f.auth.SessionByToken(ctx, info.Token)
	assert.ErrorIs(t, err, auth.ErrAccountDisabled)

	_, err = f.accounts.DeleteAccount(ctx, acc.ID)
	require.NoError(t, err)
	_, _, err = f.auth.SessionByToken(ctx, info.Token)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestListRoles(t *testing.T) {
	f := newFixture(t)
	roles, err := f.auth.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "admin", roles[0].Name)
	assert.True(t, roles[0].Can("accounts", "delete"))
	assert.Equal(t, []auth.ModuleInfo{
		{Name: "entities", Permissions: []string{"read"}},
		{Name: "accounts", Permissions: []string{"read"}},
		{Name: "roles", Permissions: []string{"read"}},
	}, roles[2].Modules)
}
