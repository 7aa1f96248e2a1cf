// Package identity centralizes user-reference resolution. Every caller
// that needs to turn an external reference (UUID or email) into a user
// goes through here instead of rolling its own lookup.
package identity

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexhaven/legal-services-backend/pkg/models"
)

// ErrNotFound is returned when a reference resolves to no user.
var ErrNotFound = errors.New("identity: user not found")

type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver { return &Resolver{db: db} }

// Resolve accepts a user UUID or an email address and returns the user.
func (r *Resolver) Resolve(ref string) (*models.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}

	var u models.User
	if id, err := uuid.Parse(ref); err == nil {
		if err := r.db.First(&u, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return &u, nil
	}

	email := strings.ToLower(ref)
	if err := r.db.First(&u, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
