// Package portal provisions customer-facing login accounts linked to
// contacts, so customers can view and pay their invoices online.
package portal

import (
	"context"
	"errors"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

// Provisioning outcome per account.
const (
	StatusCreated = "created"
	StatusExists  = "already exists"
	StatusError   = "error"
)

// RolePortal is the only role this package issues.
const RolePortal = "portal"

// ErrNotFound indicates a missing portal user.
var ErrNotFound = errors.New("portal: not found")

// User is a portal login account, always linked to a contact except for
// the demo account before its contact exists.
type User struct {
	ID           int64     `json:"id"`
	ContactID    *int64    `json:"contact_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProvisionResult is returned per provisioned account. Password is the
// generated clear-text value, reported once at creation time only.
type ProvisionResult struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

// Repository persists portal users.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	Insert(ctx context.Context, user User) (int64, error)
}

// ContactSource is the slice of masterdata the provisioner needs.
type ContactSource interface {
	ListContacts(ctx context.Context, filters masterdata.ListFilters) ([]masterdata.Contact, int, error)
	GetContactByName(ctx context.Context, name string) (masterdata.Contact, error)
}
