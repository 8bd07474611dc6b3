// Package accounts manages login accounts bound one to one to entities.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb"
)

var tracer = otel.Tracer("stexcore.dev/hub/internal/accounts")

// EntityStore is the part of the entities service accounts build on.
type EntityStore interface {
	CreateEntityTx(ctx context.Context, tx *sqldb.Tx, in entities.Input) (entities.Entity, error)
	UpdateEntityTx(ctx context.Context, tx *sqldb.Tx, id int64, in entities.Input) (int, error)
	GetEntityTx(ctx context.Context, tx *sqldb.Tx, id int64) (entities.Entity, error)
	EntitiesByID(ctx context.Context, ids []int64) (map[int64]entities.Entity, error)
}

// Service implements account lifecycle operations.
type Service struct {
	db       *sqldb.DB
	entities EntityStore
	now      func() time.Time
	hashCost int
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithHashCost sets the bcrypt cost used for new passwords.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

// NewService wires the service to the pool and the entity store.
func NewService(db *sqldb.DB, ents EntityStore, opts ...Option) *Service {
	s := &Service{
		db:       db,
		entities: ents,
		now:      func() time.Time { return time.Now().UTC() },
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount creates the account and, depending on the input, creates or
// updates its entity, all in one transaction. Entity and account conflicts are
// reported together.
func (s *Service) CreateAccount(ctx context.Context, in CreateInput) (acc Account, err error) {
	ctx, span := tracer.Start(ctx, "accounts.CreateAccount")
	defer func() { endSpan(span, err) }()

	in, err = in.validate()
	if err != nil {
		return Account{}, err
	}
	hash, err := auth.HashPasswordCost(in.Password, s.hashCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	err = s.db.InTx(ctx, func(tx *sqldb.Tx) error {
		if err := s.requireRole(ctx, tx, in.RoleID); err != nil {
			return err
		}

		var result checks
		entityID, err := s.resolveEntity(ctx, tx, in, &result)
		if err != nil {
			return err
		}
		if result.usernameUsed, err = sqldb.Exists(ctx, tx,
			`select 1 from accounts where username = ? limit 1`, in.Username); err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if entityID != 0 {
			if result.entityLinked, err = sqldb.Exists(ctx, tx,
				`select 1 from accounts where entity_id = ? limit 1`, entityID); err != nil {
				return fmt.Errorf("check entity link: %w", err)
			}
		}
		if err := result.err(); err != nil {
			obs.Conflicts.WithLabelValues("account").Inc()
			return err
		}

		now := s.now()
		var id int64
		err = tx.QueryRowContext(ctx, `
			insert into accounts (entity_id, role_id, username, password, enabled, created_at, updated_at)
			values (?, ?, ?, ?, ?, ?, ?)
			returning id
		`, entityID, in.RoleID, in.Username, hash, enabled, now, now).Scan(&id)
		if err != nil {
			if sqldb.IsUniqueViolation(err) {
				return uniqueViolation(err)
			}
			return fmt.Errorf("insert account: %w", err)
		}

		ent, err := s.entities.GetEntityTx(ctx, tx, entityID)
		if err != nil {
			return err
		}
		acc = Account{
			ID:        id,
			Username:  in.Username,
			Enabled:   enabled,
			RoleID:    in.RoleID,
			EntityID:  entityID,
			CreatedAt: now,
			Entity:    ent,
		}
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	obs.AccountMutations.WithLabelValues("create").Inc()
	return acc, nil
}

// resolveEntity applies the linkage mode and returns the entity id, or 0 when
// an entity conflict was captured in result instead.
func (s *Service) resolveEntity(ctx context.Context, tx *sqldb.Tx, in CreateInput, result *checks) (int64, error) {
	switch {
	case in.EntityID != nil && in.Entity == nil:
		ok, err := sqldb.Exists(ctx, tx, `select 1 from entities where id = ?`, *in.EntityID)
		if err != nil {
			return 0, fmt.Errorf("check entity: %w", err)
		}
		if !ok {
			return 0, entities.ErrNotFound
		}
		return *in.EntityID, nil
	case in.EntityID != nil:
		_, err := s.entities.UpdateEntityTx(ctx, tx, *in.EntityID, *in.Entity)
		if err := result.captureEntity(err); err != nil {
			return 0, err
		}
		return *in.EntityID, nil
	default:
		ent, err := s.entities.CreateEntityTx(ctx, tx, *in.Entity)
		if err := result.captureEntity(err); err != nil {
			return 0, err
		}
		return ent.ID, nil
	}
}

func (s *Service) requireRole(ctx context.Context, q sqldb.Querier, roleID int64) error {
	ok, err := sqldb.Exists(ctx, q, `select 1 from roles where id = ?`, roleID)
	if err != nil {
		return fmt.Errorf("check role: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: unknown role %d", ErrInvalidInput, roleID)
	}
	return nil
}

// UpdateAccount updates the linked entity first when a payload is given, then
// the account fields. It returns the sum of the change indicators.
func (s *Service) UpdateAccount(ctx context.Context, id int64, in UpdateInput) (changed int, err error) {
	ctx, span := tracer.Start(ctx, "accounts.UpdateAccount")
	defer func() { endSpan(span, err) }()

	in, err = in.validate()
	if err != nil {
		return 0, err
	}
	var hash string
	if in.Password != nil {
		if hash, err = auth.HashPasswordCost(*in.Password, s.hashCost); err != nil {
			return 0, fmt.Errorf("hash password: %w", err)
		}
	}

	err = s.db.InTx(ctx, func(tx *sqldb.Tx) error {
		var entityID int64
		err := tx.QueryRowContext(ctx, `select entity_id from accounts where id = ?`, id).Scan(&entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("select account %d: %w", id, err)
		}

		var result checks
		if in.Entity != nil {
			n, err := s.entities.UpdateEntityTx(ctx, tx, entityID, *in.Entity)
			if err := result.captureEntity(err); err != nil {
				return err
			}
			changed += n
		}
		if in.Username != nil {
			if result.usernameUsed, err = sqldb.Exists(ctx, tx,
				`select 1 from accounts where username = ? and id <> ? limit 1`, *in.Username, id); err != nil {
				return fmt.Errorf("check username: %w", err)
			}
		}
		if in.RoleID != nil {
			if err := s.requireRole(ctx, tx, *in.RoleID); err != nil {
				return err
			}
		}
		if err := result.err(); err != nil {
			obs.Conflicts.WithLabelValues("account").Inc()
			return err
		}

		var (
			sets []string
			args []any
		)
		if in.Username != nil {
			sets = append(sets, "username = ?")
			args = append(args, *in.Username)
		}
		if in.Password != nil {
			sets = append(sets, "password = ?")
			args = append(args, hash)
		}
		if in.Enabled != nil {
			sets = append(sets, "enabled = ?")
			args = append(args, *in.Enabled)
		}
		if in.RoleID != nil {
			sets = append(sets, "role_id = ?")
			args = append(args, *in.RoleID)
		}
		if len(sets) == 0 {
			return nil
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, s.now(), id)

		res, err := tx.ExecContext(ctx, `update accounts set `+strings.Join(sets, ", ")+` where id = ?`, args...)
		if err != nil {
			if sqldb.IsUniqueViolation(err) {
				return uniqueViolation(err)
			}
			return fmt.Errorf("update account %d: %w", id, err)
		}
		if sqldb.Affected(res) > 0 {
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		obs.AccountMutations.WithLabelValues("update").Inc()
	}
	return changed, nil
}

// DeleteAccount removes the account row and returns the number of rows deleted.
// Sessions of the account are left in place.
func (s *Service) DeleteAccount(ctx context.Context, id int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from accounts where id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete account %d: %w", id, err)
	}
	n := sqldb.Affected(res)
	if n > 0 {
		obs.AccountMutations.WithLabelValues("delete").Inc()
	}
	return n, nil
}

const accountColumns = `id, username, enabled, role_id, entity_id, created_at`

// GetAccount returns one account with its entity, or ErrNotFound.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	list, err := s.list(ctx, `where id = ?`, id)
	if err != nil {
		return Account{}, err
	}
	if len(list) == 0 {
		return Account{}, ErrNotFound
	}
	return list[0], nil
}

// ListAccounts returns every account with its entity, ordered by id.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.list(ctx, "")
}

func (s *Service) list(ctx context.Context, where string, args ...any) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts `+where+` order by id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	result := []Account{}
	var ids []int64
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Username, &a.Enabled, &a.RoleID, &a.EntityID, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, a)
		ids = append(ids, a.EntityID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	ents, err := s.entities.EntitiesByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Entity = ents[result[i].EntityID]
	}
	return result, nil
}

// uniqueViolation maps a unique index failure on accounts to the matching flag.
func uniqueViolation(err error) error {
	msg := strings.ToLower(err.Error())
	return &ConflictError{
		UsernameUsed: strings.Contains(msg, "username"),
		EntityLinked: strings.Contains(msg, "entity_id"),
	}
}

func endSpan(span trace.Span, err error) {
	var conflict *ConflictError
	if err != nil && !errors.As(err, &conflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Bootstrap creates the first account when the accounts table is empty. It
// reports false, and creates nothing, once any account exists.
func (s *Service) Bootstrap(ctx context.Context, in CreateInput) (Account, bool, error) {
	exists, err := sqldb.Exists(ctx, s.db, `select 1 from accounts limit 1`)
	if err != nil {
		return Account{}, false, fmt.Errorf("check accounts: %w", err)
	}
	if exists {
		return Account{}, false, nil
	}
	acc, err := s.CreateAccount(ctx, in)
	if err != nil {
		return Account{}, false, err
	}
	return acc, true, nil
}
