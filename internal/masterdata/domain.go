package masterdata

import (
	"context"
	"time"
)

// ListFilters represents standard list filters
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool

	// Entity specific filters
	CategoryID *int64
	TagID      *int64
}

// Tag labels a contact for classification and analytic matching
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Contact represents a customer or vendor entity
type Contact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	IsVendor  bool      `json:"is_vendor"`
	IsActive  bool      `json:"is_active"`
	TagIDs    []int64   `json:"tag_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Category represents a product category
type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

// Product represents a product entity
type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	CategoryID *int64    `json:"category_id"`
	Price      float64   `json:"price"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repository interface for master data operations
type Repository interface {
	// Contact operations
	ListContacts(ctx context.Context, filters ListFilters) ([]Contact, int, error)
	GetContact(ctx context.Context, id int64) (Contact, error)
	GetContactByName(ctx context.Context, name string) (Contact, error)
	CreateContact(ctx context.Context, contact Contact) (Contact, error)
	UpdateContact(ctx context.Context, id int64, contact Contact) error
	SetContactActive(ctx context.Context, id int64, active bool) error
	ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error)

	// Tag operations
	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, tag Tag) (Tag, error)

	// Category operations
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, category Category) (Category, error)

	// Product operations
	ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, id int64, product Product) error
	SetProductActive(ctx context.Context, id int64, active bool) error
}

// Service interface for master data business logic
type Service interface {
	ListContacts(ctx context.Context, filters ListFilters) ([]Contact, int, error)
	GetContact(ctx context.Context, id int64) (Contact, error)
	GetContactByName(ctx context.Context, name string) (Contact, error)
	CreateContact(ctx context.Context, contact Contact) (Contact, error)
	UpdateContact(ctx context.Context, id int64, contact Contact) error
	DeactivateContact(ctx context.Context, id int64) error
	ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error)

	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, tag Tag) (Tag, error)

	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	CreateCategory(ctx context.Context, category Category) (Category, error)

	ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, id int64, product Product) error
	DeactivateProduct(ctx context.Context, id int64) error
	ProductCategoryID(ctx context.Context, productID int64) (*int64, error)
}
