package masterdata

import (
	"context"
	"errors"
	"strings"
)

// service implements Service interface
type service struct {
	repo Repository
}

// NewService creates a new master data service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// Contact operations
func (s *service) ListContacts(ctx context.Context, filters ListFilters) ([]Contact, int, error) {
	return s.repo.ListContacts(ctx, filters)
}

func (s *service) GetContact(ctx context.Context, id int64) (Contact, error) {
	if id <= 0 {
		return Contact{}, errors.New("invalid contact ID")
	}
	return s.repo.GetContact(ctx, id)
}

func (s *service) GetContactByName(ctx context.Context, name string) (Contact, error) {
	if strings.TrimSpace(name) == "" {
		return Contact{}, errors.New("contact name is required")
	}
	return s.repo.GetContactByName(ctx, name)
}

func (s *service) CreateContact(ctx context.Context, contact Contact) (Contact, error) {
	if err := validateContact(contact); err != nil {
		return Contact{}, err
	}
	return s.repo.CreateContact(ctx, contact)
}

func (s *service) UpdateContact(ctx context.Context, id int64, contact Contact) error {
	if id <= 0 {
		return errors.New("invalid contact ID")
	}
	if err := validateContact(contact); err != nil {
		return err
	}
	return s.repo.UpdateContact(ctx, id, contact)
}

func (s *service) DeactivateContact(ctx context.Context, id int64) error {
	return s.repo.SetContactActive(ctx, id, false)
}

func (s *service) ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error) {
	if contactID <= 0 {
		return nil, errors.New("invalid contact ID")
	}
	return s.repo.ContactTagIDs(ctx, contactID)
}

// Tag operations
func (s *service) ListTags(ctx context.Context) ([]Tag, error) {
	return s.repo.ListTags(ctx)
}

func (s *service) CreateTag(ctx context.Context, tag Tag) (Tag, error) {
	if strings.TrimSpace(tag.Name) == "" {
		return Tag{}, errors.New("tag name is required")
	}
	return s.repo.CreateTag(ctx, tag)
}

// Category operations
func (s *service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *service) GetCategory(ctx context.Context, id int64) (Category, error) {
	if id <= 0 {
		return Category{}, errors.New("invalid category ID")
	}
	return s.repo.GetCategory(ctx, id)
}

func (s *service) CreateCategory(ctx context.Context, category Category) (Category, error) {
	if strings.TrimSpace(category.Name) == "" {
		return Category{}, errors.New("category name is required")
	}
	return s.repo.CreateCategory(ctx, category)
}

// Product operations
func (s *service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filters)
}

func (s *service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, errors.New("invalid product ID")
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *service) CreateProduct(ctx context.Context, product Product) (Product, error) {
	if err := validateProduct(product); err != nil {
		return Product{}, err
	}
	return s.repo.CreateProduct(ctx, product)
}

func (s *service) UpdateProduct(ctx context.Context, id int64, product Product) error {
	if id <= 0 {
		return errors.New("invalid product ID")
	}
	if err := validateProduct(product); err != nil {
		return err
	}
	return s.repo.UpdateProduct(ctx, id, product)
}

func (s *service) DeactivateProduct(ctx context.Context, id int64) error {
	return s.repo.SetProductActive(ctx, id, false)
}

func (s *service) ProductCategoryID(ctx context.Context, productID int64) (*int64, error) {
	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return product.CategoryID, nil
}

func validateContact(contact Contact) error {
	if strings.TrimSpace(contact.Name) == "" {
		return errors.New("contact name is required")
	}
	return nil
}

func validateProduct(product Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return errors.New("product name is required")
	}
	if product.Price < 0 {
		return errors.New("product price must not be negative")
	}
	return nil
}
