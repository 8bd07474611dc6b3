// Package entities manages entity records and their email and phone contacts.
package entities

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stexcore.dev/hub/internal/obs"
	"stexcore.dev/hub/internal/store/sqldb"
)

var tracer = otel.Tracer("stexcore.dev/hub/internal/entities")

// Service implements entity lifecycle operations over a shared pool.
type Service struct {
	db *sqldb.DB
}

// NewService wires the service to a pool.
func NewService(db *sqldb.DB) *Service {
	return &Service{db: db}
}

// CreateEntity creates an entity with its contacts in a transaction of its own.
func (s *Service) CreateEntity(ctx context.Context, in Input) (ent Entity, err error) {
	ctx, span := tracer.Start(ctx, "entities.CreateEntity")
	defer func() { endSpan(span, err) }()

	err = s.db.InTx(ctx, func(tx *sqldb.Tx) error {
		ent, err = s.CreateEntityTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	obs.EntityMutations.WithLabelValues("create").Inc()
	return ent, nil
}

// CreateEntityTx creates an entity inside tx. The caller owns commit and rollback.
func (s *Service) CreateEntityTx(ctx context.Context, tx *sqldb.Tx, in Input) (Entity, error) {
	in, err := in.Normalize()
	if err != nil {
		return Entity{}, err
	}
	if in.Emails == nil {
		in.Emails = []string{}
	}
	if in.Phones == nil {
		in.Phones = []string{}
	}

	conflict, err := findConflicts(ctx, tx, 0, in, in.Emails, in.Phones)
	if err != nil {
		return Entity{}, err
	}
	if conflict != nil {
		obs.Conflicts.WithLabelValues("entity").Inc()
		return Entity{}, conflict
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		insert into entities (name, lastname, birthdate, national_id, nationality_type)
		values (?, ?, ?, ?, ?)
		returning id
	`, in.Name, in.Lastname, in.Birthdate, in.NationalID, in.NationalityType).Scan(&id)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return Entity{}, &ConflictError{DuplicatedNationalID: true, EmailsUsed: []string{}, PhonesUsed: []string{}}
		}
		return Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	if _, err := insertContacts(ctx, tx, emailContacts, id, in.Emails); err != nil {
		return Entity{}, err
	}
	if _, err := insertContacts(ctx, tx, phoneContacts, id, in.Phones); err != nil {
		return Entity{}, err
	}

	return Entity{
		ID:              id,
		Name:            in.Name,
		Lastname:        in.Lastname,
		Birthdate:       in.Birthdate,
		NationalID:      in.NationalID,
		NationalityType: in.NationalityType,
		Emails:          in.Emails,
		Phones:          in.Phones,
	}, nil
}

// UpdateEntity updates an entity in a transaction of its own. It returns 1 when
// anything changed and 0 otherwise.
func (s *Service) UpdateEntity(ctx context.Context, id int64, in Input) (changed int, err error) {
	ctx, span := tracer.Start(ctx, "entities.UpdateEntity")
	defer func() { endSpan(span, err) }()

	err = s.db.InTx(ctx, func(tx *sqldb.Tx) error {
		changed, err = s.UpdateEntityTx(ctx, tx, id, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		obs.EntityMutations.WithLabelValues("update").Inc()
	}
	return changed, nil
}

// UpdateEntityTx reconciles the entity and its contacts with in, inside tx.
func (s *Service) UpdateEntityTx(ctx context.Context, tx *sqldb.Tx, id int64, in Input) (int, error) {
	in, err := in.Normalize()
	if err != nil {
		return 0, err
	}
	current, err := getEntity(ctx, tx, id)
	if err != nil {
		return 0, err
	}
	if in.Emails == nil {
		in.Emails = current.Emails
	}
	if in.Phones == nil {
		in.Phones = current.Phones
	}
	dropEmails, addEmails := diff(current.Emails, in.Emails)
	dropPhones, addPhones := diff(current.Phones, in.Phones)

	conflict, err := findConflicts(ctx, tx, id, in, addEmails, addPhones)
	if err != nil {
		return 0, err
	}
	if conflict != nil {
		obs.Conflicts.WithLabelValues("entity").Inc()
		return 0, conflict
	}

	var affected int64
	if fieldsChanged(current, in) {
		res, err := tx.ExecContext(ctx, `
			update entities
			set name = ?, lastname = ?, birthdate = ?, national_id = ?, nationality_type = ?
			where id = ?
		`, in.Name, in.Lastname, in.Birthdate, in.NationalID, in.NationalityType, id)
		if err != nil {
			if sqldb.IsUniqueViolation(err) {
				return 0, &ConflictError{DuplicatedNationalID: true, EmailsUsed: []string{}, PhonesUsed: []string{}}
			}
			return 0, fmt.Errorf("update entity %d: %w", id, err)
		}
		affected += sqldb.Affected(res)
	}

	steps := []struct {
		run    func(context.Context, sqldb.Querier, contactKind, int64, []string) (int64, error)
		kind   contactKind
		values []string
	}{
		{deleteContacts, emailContacts, dropEmails},
		{deleteContacts, phoneContacts, dropPhones},
		{insertContacts, emailContacts, addEmails},
		{insertContacts, phoneContacts, addPhones},
	}
	for _, step := range steps {
		n, err := step.run(ctx, tx, step.kind, id, step.values)
		if err != nil {
			return 0, err
		}
		affected += n
	}

	if affected > 0 {
		return 1, nil
	}
	return 0, nil
}

func fieldsChanged(current Entity, in Input) bool {
	return current.Name != in.Name ||
		current.Lastname != in.Lastname ||
		current.Birthdate.String() != in.Birthdate.String() ||
		current.NationalID != in.NationalID ||
		current.NationalityType != in.NationalityType
}

// DeleteEntity removes the entity and its contacts. It reports whether any row was removed.
func (s *Service) DeleteEntity(ctx context.Context, id int64) (deleted bool, err error) {
	ctx, span := tracer.Start(ctx, "entities.DeleteEntity")
	defer func() { endSpan(span, err) }()

	err = s.db.InTx(ctx, func(tx *sqldb.Tx) error {
		linked, err := sqldb.Exists(ctx, tx, `select 1 from accounts where entity_id = ? limit 1`, id)
		if err != nil {
			return fmt.Errorf("check account link: %w", err)
		}
		if linked {
			return ErrLinked
		}

		var total int64
		for _, kind := range []contactKind{emailContacts, phoneContacts} {
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where entity_id = ?`, kind.table), id)
			if err != nil {
				return fmt.Errorf("delete %s: %w", kind.table, err)
			}
			total += sqldb.Affected(res)
		}
		res, err := tx.ExecContext(ctx, `delete from entities where id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete entity %d: %w", id, err)
		}
		total += sqldb.Affected(res)
		deleted = total > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		obs.EntityMutations.WithLabelValues("delete").Inc()
	}
	return deleted, nil
}

// GetEntity returns one entity with its contacts, or ErrNotFound.
func (s *Service) GetEntity(ctx context.Context, id int64) (Entity, error) {
	e, err := selectEntity(ctx, s.db, id)
	if err != nil {
		return Entity{}, err
	}
	list, err := s.withContacts(ctx, []Entity{e})
	if err != nil {
		return Entity{}, err
	}
	return list[0], nil
}

// GetEntityTx reads an entity through tx so uncommitted writes are visible.
func (s *Service) GetEntityTx(ctx context.Context, tx *sqldb.Tx, id int64) (Entity, error) {
	return getEntity(ctx, tx, id)
}

// ListEntities returns every entity ordered by id.
func (s *Service) ListEntities(ctx context.Context) ([]Entity, error) {
	list, err := selectEntities(ctx, s.db, "")
	if err != nil {
		return nil, err
	}
	return s.withContacts(ctx, list)
}

// EntitiesByID loads the given entities keyed by id. Unknown ids are absent from the map.
func (s *Service) EntitiesByID(ctx context.Context, ids []int64) (map[int64]Entity, error) {
	out := make(map[int64]Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph, args := sqldb.In(ids)
	list, err := selectEntities(ctx, s.db, "id in ("+ph+")", args...)
	if err != nil {
		return nil, err
	}
	if list, err = s.withContacts(ctx, list); err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

// SearchEntitiesByDNI returns all entities matching the parsed key.
func (s *Service) SearchEntitiesByDNI(ctx context.Context, raw string) ([]Entity, error) {
	dni, err := ParseDNI(raw)
	if err != nil {
		return nil, err
	}
	where, args := "national_id = ?", []any{dni.NationalID}
	if dni.NationalityType != "" {
		where += " and nationality_type = ?"
		args = append(args, dni.NationalityType)
	}
	list, err := selectEntities(ctx, s.db, where, args...)
	if err != nil {
		return nil, err
	}
	return s.withContacts(ctx, list)
}

// withContacts loads emails and phones for list concurrently from the pool.
func (s *Service) withContacts(ctx context.Context, list []Entity) ([]Entity, error) {
	ids := entityIDs(list)
	var emails, phones map[int64][]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		emails, err = fetchContacts(gctx, s.db, emailContacts, ids)
		return err
	})
	g.Go(func() (err error) {
		phones, err = fetchContacts(gctx, s.db, phoneContacts, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attach(list, emails, phones), nil
}

func getEntity(ctx context.Context, q sqldb.Querier, id int64) (Entity, error) {
	e, err := selectEntity(ctx, q, id)
	if err != nil {
		return Entity{}, err
	}
	emails, err := fetchContacts(ctx, q, emailContacts, []int64{id})
	if err != nil {
		return Entity{}, err
	}
	phones, err := fetchContacts(ctx, q, phoneContacts, []int64{id})
	if err != nil {
		return Entity{}, err
	}
	return attach([]Entity{e}, emails, phones)[0], nil
}

func attach(list []Entity, emails, phones map[int64][]string) []Entity {
	for i := range list {
		list[i].Emails = nonNil(emails[list[i].ID])
		list[i].Phones = nonNil(phones[list[i].ID])
	}
	return list
}

func entityIDs(list []Entity) []int64 {
	ids := make([]int64, len(list))
	for i, e := range list {
		ids[i] = e.ID
	}
	return ids
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
