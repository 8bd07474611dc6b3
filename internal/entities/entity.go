package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLen       = 40
	maxNationalIDLen = 15
	maxEmailLen      = 30
	maxPhoneLen      = 15
)

// Entity is the read projection of an entity with its flattened contacts.
type Entity struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Lastname        string   `json:"lastname"`
	Birthdate       Date     `json:"birthdate"`
	NationalID      string   `json:"national_id"`
	NationalityType string   `json:"nationality_type"`
	Emails          []string `json:"emails"`
	Phones          []string `json:"phones"`
}

// Input carries the writable fields of an entity.
//
// On update a nil Emails or Phones slice leaves that contact list untouched,
// while an empty non-nil slice removes every record.
type Input struct {
	Name            string   `json:"name"`
	Lastname        string   `json:"lastname"`
	Birthdate       Date     `json:"birthdate"`
	NationalID      string   `json:"national_id"`
	NationalityType string   `json:"nationality_type"`
	Emails          []string `json:"emails"`
	Phones          []string `json:"phones"`
}

// Normalize trims scalar fields, drops repeated contacts and validates column limits.
func (in Input) Normalize() (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Lastname = strings.TrimSpace(in.Lastname)
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.NationalityType = strings.TrimSpace(in.NationalityType)

	switch {
	case in.Name == "" || utf8.RuneCountInString(in.Name) > maxNameLen:
		return Input{}, invalid("name must be 1-%d characters", maxNameLen)
	case in.Lastname == "" || utf8.RuneCountInString(in.Lastname) > maxNameLen:
		return Input{}, invalid("lastname must be 1-%d characters", maxNameLen)
	case in.Birthdate.IsZero():
		return Input{}, invalid("birthdate is required")
	case in.NationalID == "" || len(in.NationalID) > maxNationalIDLen:
		return Input{}, invalid("national_id must be 1-%d characters", maxNationalIDLen)
	case !isNationalityType(in.NationalityType):
		return Input{}, invalid("nationality_type must be a single letter")
	}

	var err error
	if in.Emails, err = uniqueContacts(in.Emails, "email", maxEmailLen); err != nil {
		return Input{}, err
	}
	if in.Phones, err = uniqueContacts(in.Phones, "phone", maxPhoneLen); err != nil {
		return Input{}, err
	}
	for _, e := range in.Emails {
		if !strings.Contains(e, "@") {
			return Input{}, invalid("email %q is not an address", e)
		}
	}
	return in, nil
}

func isNationalityType(s string) bool {
	r, size := utf8.DecodeRuneInString(s)
	return size == len(s) && size > 0 && unicode.IsLetter(r)
}

func uniqueContacts(values []string, kind string, max int) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || len(v) > max {
			return nil, invalid("%s must be 1-%d characters", kind, max)
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// diff returns the values of current missing from desired and the values of desired missing from current.
func diff(current, desired []string) (toDelete, toCreate []string) {
	for _, v := range current {
		if !slices.Contains(desired, v) {
			toDelete = append(toDelete, v)
		}
	}
	for _, v := range desired {
		if !slices.Contains(current, v) {
			toCreate = append(toCreate, v)
		}
	}
	return toDelete, toCreate
}

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day, encoded as YYYY-MM-DD.
type Date struct {
	t time.Time
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD. Longer timestamp strings are truncated to their date part.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q", ErrInvalidInput, s)
	}
	return Date{t: t}, nil
}

func (d Date) IsZero() bool    { return d.t.IsZero() }
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: birthdate must be a YYYY-MM-DD string", ErrInvalidInput)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan accepts DATE columns (time.Time) and TEXT columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		y, m, day := v.Date()
		*d = NewDate(y, m, day)
		return nil
	case string:
		parsed, err := ParseDate(v)
		*d = parsed
		return err
	case []byte:
		parsed, err := ParseDate(string(v))
		*d = parsed
		return err
	}
	return fmt.Errorf("entities: cannot scan %T into Date", src)
}

func (d Date) Value() (driver.Value, error) {
	if d.t.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}
