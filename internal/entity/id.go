package entity

import (
	"strconv"

	"github.com/samber/lo"
)

// ID identifies a persisted row. Rows are keyed by auto-increment integers in
// the database and travel as strings everywhere else.
type ID string

func NewID(id any) ID {
	switch v := id.(type) {
	case string:
		return ID(v)
	case uint:
		return ID(strconv.FormatUint(uint64(v), 10))
	case int:
		return ID(strconv.Itoa(v))
	}
	panic("unsupported ID type")
}

// ParseID validates a user supplied identifier.
func ParseID(s string) (ID, error) {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", &ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }
func (id ID) Uint() uint     { return uint(lo.Must(strconv.ParseUint(id.String(), 10, 64))) }
func (id ID) IsZero() bool   { return id == "" || id == "0" }
