package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-erp/meridian-erp/internal/masterdata"
)

// DemoAccount configures the fixed demo login created on request.
type DemoAccount struct {
	Email       string
	Password    string
	ContactName string
}

// Service provisions portal accounts from the contact book.
type Service struct {
	users    Repository
	contacts ContactSource
	demo     DemoAccount
	logger   *slog.Logger
}

// NewService constructs the provisioning service.
func NewService(users Repository, contacts ContactSource, demo DemoAccount, logger *slog.Logger) *Service {
	return &Service{users: users, contacts: contacts, demo: demo, logger: logger}
}

// Provision creates a portal account for every customer contact with an
// email address. Passwords derive from the contact's first name. Already
// provisioned emails are reported, not recreated. With createDemoUser the
// fixed demo account is added, linked to its configured contact.
func (s *Service) Provision(ctx context.Context, createDemoUser bool) ([]ProvisionResult, error) {
	active := true
	contacts, _, err := s.contacts.ListContacts(ctx, masterdata.ListFilters{IsActive: &active})
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}

	var results []ProvisionResult
	for _, contact := range contacts {
		if contact.IsVendor || contact.Email == "" {
			continue
		}
		results = append(results, s.provisionContact(ctx, contact))
	}
	if createDemoUser {
		results = append(results, s.provisionDemo(ctx))
	}
	return results, nil
}

func (s *Service) provisionContact(ctx context.Context, contact masterdata.Contact) ProvisionResult {
	password := derivePassword(contact.Name)
	result := ProvisionResult{Email: contact.Email, Password: password, Name: contact.Name}

	if _, err := s.users.GetByEmail(ctx, contact.Email); err == nil {
		result.Status = StatusExists
		return result
	} else if !errors.Is(err, ErrNotFound) {
		s.logger.Error("portal user lookup", slog.String("email", contact.Email), slog.Any("error", err))
		result.Status = StatusError
		return result
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		result.Status = StatusError
		return result
	}
	contactID := contact.ID
	_, err = s.users.Insert(ctx, User{
		ContactID:    &contactID,
		Email:        contact.Email,
		Name:         contact.Name,
		PasswordHash: string(hash),
		Role:         RolePortal,
	})
	if err != nil {
		s.logger.Error("portal user insert", slog.String("email", contact.Email), slog.Any("error", err))
		result.Status = StatusError
		return result
	}
	result.Status = StatusCreated
	return result
}

func (s *Service) provisionDemo(ctx context.Context) ProvisionResult {
	result := ProvisionResult{Email: s.demo.Email, Password: s.demo.Password, Name: s.demo.ContactName}

	if _, err := s.users.GetByEmail(ctx, s.demo.Email); err == nil {
		result.Status = StatusExists
		return result
	} else if !errors.Is(err, ErrNotFound) {
		result.Status = StatusError
		return result
	}

	var contactID *int64
	contact, err := s.contacts.GetContactByName(ctx, s.demo.ContactName)
	if err == nil {
		contactID = &contact.ID
	} else {
		s.logger.Warn("demo contact not found, provisioning unlinked demo user",
			slog.String("contact", s.demo.ContactName))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.demo.Password), bcrypt.DefaultCost)
	if err != nil {
		result.Status = StatusError
		return result
	}
	_, err = s.users.Insert(ctx, User{
		ContactID:    contactID,
		Email:        s.demo.Email,
		Name:         s.demo.ContactName,
		PasswordHash: string(hash),
		Role:         RolePortal,
	})
	if err != nil {
		result.Status = StatusError
		return result
	}
	result.Status = StatusCreated
	return result
}

// Authenticate checks an email/password pair against the stored hash.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, ErrNotFound
	}
	return user, nil
}

// derivePassword builds "<first name>@123" from the contact name. The
// first token is kept verbatim, casing included.
func derivePassword(name string) string {
	first := strings.Fields(name)
	if len(first) == 0 {
		return "Portal@123"
	}
	return first[0] + "@123"
}
