package repository

import (
	"errors"
	"fmt"

	"github.com/yz4230/shipyard/internal/entity"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = gorm.ErrRecordNotFound
	ErrDuplicate = gorm.ErrDuplicatedKey
)

// translate maps gorm errors onto the entity sentinels callers match against.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", entity.ErrNotFound, err)
	case errors.Is(err, ErrDuplicate):
		return fmt.Errorf("%w: %w", entity.ErrConflict, err)
	}
	return err
}
