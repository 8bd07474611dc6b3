package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/store/sqldb"
)

// SessionInfo is what callers learn about an authenticated session.
type SessionInfo struct {
	ID        int64      `json:"id"` // account id
	SessionID int64      `json:"session_id"`
	Token     string     `json:"token"`
	Username  string     `json:"username"`
	Entity    EntityInfo `json:"entity"`
	Role      RoleInfo   `json:"role"`
	CreatedAt time.Time  `json:"created_at"`

	tokenUUID string
}

// Can reports whether the session's role grants permission within module.
func (s SessionInfo) Can(module, permission string) bool {
	return s.Role.Can(module, permission)
}

// EntityInfo is the entity part of the account snapshot.
type EntityInfo struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Lastname        string        `json:"lastname"`
	Birthdate       entities.Date `json:"birthdate"`
	NationalID      string        `json:"national_id"`
	NationalityType string        `json:"nationality_type"`
}

// RoleInfo is a role with its effective permissions grouped by module.
type RoleInfo struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Modules     []ModuleInfo `json:"modules"`
}

// Can reports whether the role grants permission within module.
func (r RoleInfo) Can(module, permission string) bool {
	for _, m := range r.Modules {
		if m.Name == module {
			return slices.Contains(m.Permissions, permission)
		}
	}
	return false
}

// ModuleInfo lists the permission names granted on one module.
type ModuleInfo struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// Grant is one role-module-permission join row.
type Grant struct {
	Module     string
	Permission string
}

// GroupGrants folds join rows into modules, keeping first-seen module order and
// first-seen permission order and dropping repeated permissions.
func GroupGrants(grants []Grant) []ModuleInfo {
	modules := []ModuleInfo{}
	index := make(map[string]int)
	for _, g := range grants {
		i, ok := index[g.Module]
		if !ok {
			i = len(modules)
			index[g.Module] = i
			modules = append(modules, ModuleInfo{Name: g.Module, Permissions: []string{}})
		}
		if !slices.Contains(modules[i].Permissions, g.Permission) {
			modules[i].Permissions = append(modules[i].Permissions, g.Permission)
		}
	}
	return modules
}

// accountRecord is the account row joined with its entity and role.
type accountRecord struct {
	ID           int64
	Username     string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
	Entity       EntityInfo
	Role         RoleInfo
}

var errNoAccount = errors.New("auth: account not found")

// loadAccount reads one account snapshot selected by column ("id" or "entity_id").
func loadAccount(ctx context.Context, q sqldb.Querier, column string, value int64) (accountRecord, error) {
	var rec accountRecord
	err := q.QueryRowContext(ctx, `
		select a.id, a.username, a.password, a.enabled, a.created_at,
		       e.id, e.name, e.lastname, e.birthdate, e.national_id, e.nationality_type,
		       r.id, r.name, r.description
		from accounts a
		join entities e on e.id = a.entity_id
		join roles r on r.id = a.role_id
		where a.`+column+` = ?
	`, value).Scan(
		&rec.ID, &rec.Username, &rec.PasswordHash, &rec.Enabled, &rec.CreatedAt,
		&rec.Entity.ID, &rec.Entity.Name, &rec.Entity.Lastname, &rec.Entity.Birthdate, &rec.Entity.NationalID, &rec.Entity.NationalityType,
		&rec.Role.ID, &rec.Role.Name, &rec.Role.Description,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return accountRecord{}, errNoAccount
	}
	if err != nil {
		return accountRecord{}, fmt.Errorf("load account: %w", err)
	}

	grants, err := roleGrants(ctx, q, []int64{rec.Role.ID})
	if err != nil {
		return accountRecord{}, err
	}
	rec.Role.Modules = GroupGrants(grants[rec.Role.ID])
	return rec, nil
}

// roleGrants returns join rows per role in insertion order.
func roleGrants(ctx context.Context, q sqldb.Querier, roleIDs []int64) (map[int64][]Grant, error) {
	out := make(map[int64][]Grant, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	ph, args := sqldb.In(roleIDs)
	rows, err := q.QueryContext(ctx, `
		select rmp.role_id, m.name, p.name
		from role_module_permissions rmp
		join modules m on m.id = rmp.module_id
		join permissions p on p.id = rmp.permission_id
		where rmp.role_id in (`+ph+`)
		order by rmp.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			roleID int64
			g      Grant
		)
		if err := rows.Scan(&roleID, &g.Module, &g.Permission); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], g)
	}
	return out, rows.Err()
}

func (rec accountRecord) session(sessionID int64, token, tokenUUID string) SessionInfo {
	return SessionInfo{
		ID:        rec.ID,
		SessionID: sessionID,
		Token:     token,
		Username:  rec.Username,
		Entity:    rec.Entity,
		Role:      rec.Role,
		CreatedAt: rec.CreatedAt,
		tokenUUID: tokenUUID,
	}
}
