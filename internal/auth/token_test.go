package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"

	"stexcore.dev/hub/internal/store/sqldb"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	codec := NewTokenCodec("secret", fixedClock(now))

	token, err := codec.Sign(7, 11, "3f0c", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.AccountID != 7 || claims.SessionID != 11 || claims.TokenUUID != "3f0c" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Version != TokenVersion || claims.Issuer != TokenIssuer {
		t.Fatalf("unexpected version/issuer: %q %q", claims.Version, claims.Issuer)
	}
}

func TestTokenRejections(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	codec := NewTokenCodec("secret", fixedClock(now))

	sign := func(key string, method jwt.SigningMethod, mutate func(*Claims)) string {
		t.Helper()
		claims := Claims{
			Version:   TokenVersion,
			AccountID: 1,
			SessionID: 2,
			TokenUUID: "uuid",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    TokenIssuer,
				Audience:  jwt.ClaimStrings{TokenIssuer},
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		if mutate != nil {
			mutate(&claims)
		}
		var signKey any = []byte(key)
		if method == jwt.SigningMethodNone {
			signKey = jwt.UnsafeAllowNoneSignatureType
		}
		s, err := jwt.NewWithClaims(method, claims).SignedString(signKey)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not-a-token",
		"wrong key":      sign("other", jwt.SigningMethodHS256, nil),
		"wrong alg":      sign("secret", jwt.SigningMethodHS512, nil),
		"none alg":       sign("", jwt.SigningMethodNone, nil),
		"wrong issuer":   sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.Issuer = "someone" }),
		"wrong audience": sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.Audience = jwt.ClaimStrings{"other"} }),
		"expired":        sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Second)) }),
		"no expiry":      sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.ExpiresAt = nil }),
		"old version":    sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.Version = "auth@0.9.0" }),
		"no uuid":        sign("secret", jwt.SigningMethodHS256, func(c *Claims) { c.TokenUUID = "" }),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Parse(token); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestGroupGrants(t *testing.T) {
	got := GroupGrants([]Grant{
		{"entities", "read"},
		{"accounts", "read"},
		{"entities", "create"},
		{"entities", "read"},
		{"accounts", "delete"},
	})
	if len(got) != 2 || got[0].Name != "entities" || got[1].Name != "accounts" {
		t.Fatalf("unexpected module order: %+v", got)
	}
	if want := []string{"read", "create"}; !equal(got[0].Permissions, want) {
		t.Fatalf("entities permissions = %v, want %v", got[0].Permissions, want)
	}
	if want := []string{"read", "delete"}; !equal(got[1].Permissions, want) {
		t.Fatalf("accounts permissions = %v, want %v", got[1].Permissions, want)
	}

	role := RoleInfo{Modules: got}
	if !role.Can("accounts", "delete") || role.Can("accounts", "create") || role.Can("roles", "read") {
		t.Fatalf("unexpected Can results for %+v", got)
	}
	if empty := GroupGrants(nil); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLockMatchesSessionTokenAndAccount(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer raw.Close()

	svc, err := NewService(sqldb.New(raw, sqldb.Postgres), "secret")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	info := SessionInfo{ID: 5, SessionID: 9, Token: "signed.jwt.value", tokenUUID: "a1b2"}

	mock.ExpectExec(`update sessions set locked = \$1\s+where id = \$2 and token_uuid = \$3 and account_id = \$4 and locked = \$5`).
		WithArgs(true, int64(9), "a1b2", int64(5), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := svc.lock(context.Background(), info); err != nil {
		t.Fatalf("lock: %v", err)
	}

	mock.ExpectExec(`update sessions set locked`).
		WithArgs(true, int64(9), "a1b2", int64(5), false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := svc.lock(context.Background(), info); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on zero rows, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
