package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stexcore.dev/hub/internal/store/sqldb"
)

// contactKind describes one of the two contact tables.
type contactKind struct {
	table  string
	column string
}

var (
	emailContacts = contactKind{table: "emails", column: "email_address"}
	phoneContacts = contactKind{table: "phones", column: "phone"}
)

const entityColumns = `id, name, lastname, birthdate, national_id, nationality_type`

func scanEntity(row interface{ Scan(...any) error }) (Entity, error) {
	var e Entity
	err := row.Scan(&e.ID, &e.Name, &e.Lastname, &e.Birthdate, &e.NationalID, &e.NationalityType)
	return e, err
}

func selectEntity(ctx context.Context, q sqldb.Querier, id int64) (Entity, error) {
	e, err := scanEntity(q.QueryRowContext(ctx, `select `+entityColumns+` from entities where id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, fmt.Errorf("select entity %d: %w", id, err)
	}
	return e, nil
}

func selectEntities(ctx context.Context, q sqldb.Querier, where string, args ...any) ([]Entity, error) {
	query := `select ` + entityColumns + ` from entities`
	if where != "" {
		query += ` where ` + where
	}
	rows, err := q.QueryContext(ctx, query+` order by id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select entities: %w", err)
	}
	defer rows.Close()

	result := []Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// fetchContacts returns contact values grouped by owning entity, in insertion order.
func fetchContacts(ctx context.Context, q sqldb.Querier, kind contactKind, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ph, args := sqldb.In(ids)
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`select entity_id, %s from %s where entity_id in (%s) order by id`, kind.column, kind.table, ph),
		args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			owner int64
			value string
		)
		if err := rows.Scan(&owner, &value); err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], value)
	}
	return out, rows.Err()
}

// usedContacts returns which of values are owned by an entity other than exclude.
func usedContacts(ctx context.Context, q sqldb.Querier, kind contactKind, values []string, exclude int64) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ph, args := sqldb.In(values)
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`select %s from %s where %s in (%s) and entity_id <> ? order by id`, kind.column, kind.table, kind.column, ph),
		append(args, exclude)...)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", kind.table, err)
	}
	defer rows.Close()
	var used []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		used = append(used, v)
	}
	return used, rows.Err()
}

// findConflicts checks the three uniqueness rules against entities other than exclude.
// The lookups share the caller's transaction and are therefore issued in sequence.
func findConflicts(ctx context.Context, q sqldb.Querier, exclude int64, in Input, emails, phones []string) (*ConflictError, error) {
	var (
		conflict ConflictError
		err      error
	)
	conflict.DuplicatedNationalID, err = sqldb.Exists(ctx, q,
		`select 1 from entities where national_id = ? and nationality_type = ? and id <> ? limit 1`,
		in.NationalID, in.NationalityType, exclude)
	if err != nil {
		return nil, fmt.Errorf("check national id: %w", err)
	}
	if conflict.EmailsUsed, err = usedContacts(ctx, q, emailContacts, emails, exclude); err != nil {
		return nil, err
	}
	if conflict.PhonesUsed, err = usedContacts(ctx, q, phoneContacts, phones, exclude); err != nil {
		return nil, err
	}
	return conflict.orNil(), nil
}

func insertContacts(ctx context.Context, q sqldb.Querier, kind contactKind, owner int64, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`insert into %s (entity_id, %s) values `, kind.table, kind.column)
	args := make([]any, 0, len(values)*2)
	for i, v := range values {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?)"
		args = append(args, owner, v)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			c := &ConflictError{}
			if kind == emailContacts {
				c.EmailsUsed = values
			} else {
				c.PhonesUsed = values
			}
			return 0, c.orNil()
		}
		return 0, fmt.Errorf("insert %s: %w", kind.table, err)
	}
	return sqldb.Affected(res), nil
}

func deleteContacts(ctx context.Context, q sqldb.Querier, kind contactKind, owner int64, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	ph, args := sqldb.In(values)
	res, err := q.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where entity_id = ? and %s in (%s)`, kind.table, kind.column, ph),
		append([]any{owner}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", kind.table, err)
	}
	return sqldb.Affected(res), nil
}
