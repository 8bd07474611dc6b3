package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"stexcore.dev/hub/internal/auth"
	"stexcore.dev/hub/internal/entities"
)

const maxUsernameLen = 20

var (
	ErrNotFound     = errors.New("accounts: not found")
	ErrInvalidInput = errors.New("accounts: invalid input")
)

// Account is the read projection of an account merged with its entity.
type Account struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	Enabled   bool            `json:"enabled"`
	RoleID    int64           `json:"role_id"`
	EntityID  int64           `json:"entity_id"`
	CreatedAt time.Time       `json:"created_at"`
	Entity    entities.Entity `json:"entity"`
}

// CreateInput describes a new account and how it links to an entity:
// EntityID alone reuses an entity, EntityID with Entity updates it in place,
// and Entity alone creates a new one.
type CreateInput struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Enabled  *bool           `json:"enabled"`
	RoleID   int64           `json:"role_id"`
	EntityID *int64          `json:"entity_id"`
	Entity   *entities.Input `json:"entity"`
}

func (in CreateInput) validate() (CreateInput, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validateUsername(in.Username); err != nil {
		return CreateInput{}, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return CreateInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.RoleID <= 0 {
		return CreateInput{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if in.EntityID == nil && in.Entity == nil {
		return CreateInput{}, fmt.Errorf("%w: entity_id or entity is required", ErrInvalidInput)
	}
	if in.EntityID != nil && *in.EntityID <= 0 {
		return CreateInput{}, fmt.Errorf("%w: entity_id must be positive", ErrInvalidInput)
	}
	return in, nil
}

// UpdateInput carries optional changes; nil fields are left as they are.
type UpdateInput struct {
	Username *string         `json:"username"`
	Password *string         `json:"password"`
	Enabled  *bool           `json:"enabled"`
	RoleID   *int64          `json:"role_id"`
	Entity   *entities.Input `json:"entity"`
}

func (in UpdateInput) validate() (UpdateInput, error) {
	if in.Username != nil {
		u := strings.TrimSpace(*in.Username)
		if err := validateUsername(u); err != nil {
			return UpdateInput{}, err
		}
		in.Username = &u
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return UpdateInput{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if in.RoleID != nil && *in.RoleID <= 0 {
		return UpdateInput{}, fmt.Errorf("%w: role_id must be positive", ErrInvalidInput)
	}
	return in, nil
}

func validateUsername(u string) error {
	if u == "" || len(u) > maxUsernameLen {
		return fmt.Errorf("%w: username must be 1-%d characters", ErrInvalidInput, maxUsernameLen)
	}
	for _, r := range u {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: username must not contain spaces", ErrInvalidInput)
		}
	}
	return nil
}

// ConflictError bundles the account level rules with any entity conflict.
type ConflictError struct {
	UsernameUsed bool                    `json:"username_used"`
	EntityLinked bool                    `json:"another_account_with_entity"`
	Entity       *entities.ConflictError `json:"entity,omitempty"`
}

func (e *ConflictError) Error() string {
	var parts []string
	if e.UsernameUsed {
		parts = append(parts, "username already in use")
	}
	if e.EntityLinked {
		parts = append(parts, "entity already has an account")
	}
	if e.Entity != nil {
		parts = append(parts, e.Entity.Error())
	}
	return "accounts: conflict: " + strings.Join(parts, "; ")
}

func (e *ConflictError) Unwrap() error {
	if e.Entity == nil {
		return nil
	}
	return e.Entity
}

// checks accumulates validation outcomes before a single pass/fail decision.
type checks struct {
	usernameUsed bool
	entityLinked bool
	entity       *entities.ConflictError
}

// captureEntity records an entity conflict and passes every other error through.
func (c *checks) captureEntity(err error) error {
	var conflict *entities.ConflictError
	if errors.As(err, &conflict) {
		c.entity = conflict
		return nil
	}
	return err
}

func (c checks) err() error {
	if !c.usernameUsed && !c.entityLinked && c.entity == nil {
		return nil
	}
	return &ConflictError{
		UsernameUsed: c.usernameUsed,
		EntityLinked: c.entityLinked,
		Entity:       c.entity,
	}
}
