package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stexcore.dev/hub/internal/accounts"
	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb/sqldbtest"
)

const testPassword = "correct-horse"

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	accounts *accounts.Service
	seq      int
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	db := sqldbtest.NewSQLite(t)
	ents := entities.NewService(db)
	accs := accounts.NewService(db, ents, accounts.WithHashCost(bcrypt.MinCost))
	authSvc, err := auth.NewService(db, "test-key")
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	api := New(Deps{
		Entities:        ents,
		Accounts:        accs,
		Auth:            authSvc,
		Ready:           db,
		Logger:          obs.NewLogger(io.Discard, "error", "json"),
		Version:         "test",
		SignInBurst:     100,
		SignInPerSecond: 100,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		accounts: accs,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// signedIn creates an account with roleID and returns a session token for it.
func (c *apiClient) signedIn(roleID int64) string {
	c.t.Helper()
	c.seq++
	email := fmt.Sprintf("user%d@hub.test", c.seq)
	_, err := c.accounts.CreateAccount(context.Background(), accounts.CreateInput{
		Username: fmt.Sprintf("user%d", c.seq),
		Password: testPassword,
		RoleID:   roleID,
		Entity: &entities.Input{
			Name:            "Test",
			Lastname:        "User",
			Birthdate:       entities.NewDate(1980, time.January, 1),
			NationalID:      fmt.Sprintf("9000%d", c.seq),
			NationalityType: "E",
			Emails:          []string{email},
		},
	})
	if err != nil {
		c.t.Fatalf("create account: %v", err)
	}

	resp := c.do(http.MethodPost, "/v1/auth/signin", map[string]string{"email": email, "password": testPassword}, "")
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected signin status: %d", resp.StatusCode)
	}
	body := decode[envelopeOf[auth.SessionInfo]](c.t, resp)
	if body.Data.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return body.Data.Token
}

type envelopeOf[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type errorBody struct {
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Details   json.RawMessage `json:"details"`
	RequestID string          `json:"request_id"`
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, raw)
	}
}

func person(nationalID, email, phone string) map[string]any {
	return map[string]any{
		"name":             "Maria",
		"lastname":         "Gomez",
		"birthdate":        "1992-05-17",
		"national_id":      nationalID,
		"nationality_type": "V",
		"emails":           []string{email},
		"phones":           []string{phone},
	}
}

func TestAPIEntityFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.signedIn(1)

	resp := api.do(http.MethodPost, "/v1/entities", person("12345678", "maria@x.io", "04141234567"), token)
	expectStatus(t, resp, http.StatusCreated)
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatalf("expected Location header")
	}
	created := decode[envelopeOf[entities.Entity]](t, resp)
	if created.Message != "Entity created!" || created.Data.ID == 0 {
		t.Fatalf("unexpected create body: %+v", created)
	}
	id := created.Data.ID

	resp = api.do(http.MethodGet, "/v1/entities/dni/V-12345678", nil, token)
	expectStatus(t, resp, http.StatusOK)
	found := decode[envelopeOf[[]entities.Entity]](t, resp)
	if found.Message != "1 entity found!" || len(found.Data) != 1 || found.Data[0].ID != id {
		t.Fatalf("unexpected search body: %+v", found)
	}

	resp = api.do(http.MethodGet, "/v1/entities/dni/E-12345678", nil, token)
	expectStatus(t, resp, http.StatusOK)
	if none := decode[envelopeOf[[]entities.Entity]](t, resp); none.Message != "0 entities found!" || none.Data == nil {
		t.Fatalf("unexpected empty search body: %+v", none)
	}

	update := person("12345678", "maria@x.io", "04240000000")
	resp = api.do(http.MethodPut, fmt.Sprintf("/v1/entities/%d", id), update, token)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[envelopeOf[map[string]int]](t, resp); body.Data["changed"] != 1 {
		t.Fatalf("unexpected update body: %+v", body)
	}

	resp = api.do(http.MethodPut, fmt.Sprintf("/v1/entities/%d", id), update, token)
	expectStatus(t, resp, http.StatusOK)
	if body := decode[envelopeOf[map[string]int]](t, resp); body.Message != "No changes applied" {
		t.Fatalf("unexpected no-op update body: %+v", body)
	}

	resp = api.do(http.MethodGet, fmt.Sprintf("/v1/entities/%d", id), nil, token)
	expectStatus(t, resp, http.StatusOK)
	got := decode[envelopeOf[entities.Entity]](t, resp)
	if len(got.Data.Phones) != 1 || got.Data.Phones[0] != "04240000000" {
		t.Fatalf("unexpected phones: %v", got.Data.Phones)
	}
	if got.Data.Birthdate.String() != "1992-05-17" {
		t.Fatalf("unexpected birthdate: %v", got.Data.Birthdate)
	}

	resp = api.do(http.MethodDelete, fmt.Sprintf("/v1/entities/%d", id), nil, token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, fmt.Sprintf("/v1/entities/%d", id), nil, token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = api.do(http.MethodGet, fmt.Sprintf("/v1/entities/%d", id), nil, token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAPIEntityConflict(t *testing.T) {
	api := newTestAPI(t)
	token := api.signedIn(1)

	resp := api.do(http.MethodPost, "/v1/entities", person("111", "dup@x.io", "0412"), token)
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/entities", person("111", "dup@x.io", "0413"), token)
	expectStatus(t, resp, http.StatusConflict)
	body := decode[errorBody](t, resp)
	if body.Error != "conflict" || body.RequestID == "" {
		t.Fatalf("unexpected conflict body: %+v", body)
	}
	var details entities.ConflictError
	if err := json.Unmarshal(body.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if !details.DuplicatedNationalID || len(details.EmailsUsed) != 1 || details.EmailsUsed[0] != "dup@x.io" || len(details.PhonesUsed) != 0 {
		t.Fatalf("unexpected conflict details: %+v", details)
	}
}

func TestAPIAccountConflict(t *testing.T) {
	api := newTestAPI(t)
	token := api.signedIn(1)

	payload := map[string]any{
		"username": "ops",
		"password": "s3cret-pass",
		"role_id":  2,
		"entity":   person("222", "ops@x.io", "0416"),
	}
	resp := api.do(http.MethodPost, "/v1/accounts", payload, token)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[envelopeOf[accounts.Account]](t, resp)
	if created.Data.Username != "ops" || created.Data.Entity.NationalID != "222" {
		t.Fatalf("unexpected account: %+v", created.Data)
	}

	resp = api.do(http.MethodPost, "/v1/accounts", payload, token)
	expectStatus(t, resp, http.StatusConflict)
	body := decode[errorBody](t, resp)
	var details struct {
		UsernameUsed bool                    `json:"username_used"`
		EntityLinked bool                    `json:"another_account_with_entity"`
		Entity       *entities.ConflictError `json:"entity"`
	}
	if err := json.Unmarshal(body.Details, &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if !details.UsernameUsed || details.Entity == nil || !details.Entity.DuplicatedNationalID {
		t.Fatalf("unexpected conflict details: %s", body.Details)
	}

	resp = api.do(http.MethodGet, fmt.Sprintf("/v1/accounts/%d", created.Data.ID), nil, token)
	expectStatus(t, resp, http.StatusOK)
	if raw, _ := io.ReadAll(resp.Body); bytes.Contains(raw, []byte("s3cret-pass")) || bytes.Contains(raw, []byte(`"password"`)) {
		t.Fatalf("account projection leaks password: %s", raw)
	}
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(http.MethodGet, "/v1/entities", nil, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	if body := decode[errorBody](t, resp); body.Error != "unauthorized" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	resp = api.do(http.MethodGet, "/v1/entities", nil, "not-a-token")
	expectStatus(t, resp, http.StatusUnauthorized)
	if body := decode[errorBody](t, resp); body.Error != "invalid_credentials" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	viewer := api.signedIn(3)
	resp = api.do(http.MethodGet, "/v1/entities", nil, viewer)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodPost, "/v1/entities", person("333", "v@x.io", "0414"), viewer)
	expectStatus(t, resp, http.StatusForbidden)
	if body := decode[errorBody](t, resp); body.Error != "forbidden" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestAPISessionLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := api.signedIn(2)

	resp := api.do(http.MethodGet, "/v1/auth/session", nil, token)
	expectStatus(t, resp, http.StatusOK)
	session := decode[envelopeOf[auth.SessionInfo]](t, resp)
	if session.Data.Role.Name != "operator" || len(session.Data.Role.Modules) == 0 {
		t.Fatalf("unexpected session: %+v", session.Data)
	}

	resp = api.do(http.MethodPost, "/v1/auth/logout", nil, token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodGet, "/v1/auth/session", nil, token)
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAPISignInFailures(t *testing.T) {
	api := newTestAPI(t)
	api.signedIn(1)

	resp := api.do(http.MethodPost, "/v1/auth/signin", map[string]string{"email": "user1@hub.test", "password": "wrong-horse"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if body := decode[errorBody](t, resp); body.Error != "invalid_credentials" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	resp = api.do(http.MethodPost, "/v1/auth/signin", map[string]any{"email": "user1@hub.test", "pass": "x"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestAPIListRoles(t *testing.T) {
	api := newTestAPI(t)
	token := api.signedIn(3)

	resp := api.do(http.MethodGet, "/v1/roles", nil, token)
	expectStatus(t, resp, http.StatusOK)
	body := decode[envelopeOf[[]auth.RoleInfo]](t, resp)
	if len(body.Data) != 3 || body.Data[0].Name != "admin" {
		t.Fatalf("unexpected roles: %+v", body.Data)
	}
}

func TestAPIProbes(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := api.do(http.MethodGet, path, nil, "")
		expectStatus(t, resp, http.StatusOK)
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected X-Request-ID header", path)
		}
		resp.Body.Close()
	}

	resp := api.do(http.MethodGet, "/v1/entities/abc", nil, api.signedIn(1))
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
