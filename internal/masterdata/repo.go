package masterdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// repo implements Repository interface
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

// Contact operations
func (r *repo) ListContacts(ctx context.Context, filters ListFilters) ([]Contact, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filters.Search != "" {
		where += fmt.Sprintf(` AND (c.name ILIKE $%d OR c.email ILIKE $%d)`, idx, idx)
		args = append(args, "%"+filters.Search+"%")
		idx++
	}
	if filters.IsActive != nil {
		where += fmt.Sprintf(` AND c.is_active = $%d`, idx)
		args = append(args, *filters.IsActive)
		idx++
	}
	if filters.TagID != nil {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM contact_tags ct WHERE ct.contact_id = c.id AND ct.tag_id = $%d)`, idx)
		args = append(args, *filters.TagID)
		idx++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM contacts c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filters.Page > 1 {
		offset = (filters.Page - 1) * limit
	}
	query := `SELECT c.id, c.name, c.email, c.phone, c.address, c.is_vendor, c.is_active, c.created_at, c.updated_at
	          FROM contacts c` + where + fmt.Sprintf(` ORDER BY c.name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsVendor, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		contacts = append(contacts, c)
	}
	return contacts, total, rows.Err()
}

func (r *repo) GetContact(ctx context.Context, id int64) (Contact, error) {
	query := `SELECT id, name, email, phone, address, is_vendor, is_active, created_at, updated_at FROM contacts WHERE id = $1`
	var c Contact
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsVendor, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, shared.ErrNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	c.TagIDs, err = r.ContactTagIDs(ctx, c.ID)
	return c, err
}

func (r *repo) GetContactByName(ctx context.Context, name string) (Contact, error) {
	query := `SELECT id, name, email, phone, address, is_vendor, is_active, created_at, updated_at FROM contacts WHERE name = $1`
	var c Contact
	err := r.db.QueryRow(ctx, query, name).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.IsVendor, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, shared.ErrNotFound
	}
	return c, err
}

func (r *repo) CreateContact(ctx context.Context, contact Contact) (Contact, error) {
	query := `INSERT INTO contacts (name, email, phone, address, is_vendor, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, contact.Name, contact.Email, contact.Phone, contact.Address, contact.IsVendor, contact.IsActive, now, now).Scan(&contact.ID)
	if err != nil {
		return Contact{}, err
	}
	for _, tagID := range contact.TagIDs {
		if _, err := r.db.Exec(ctx, `INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, contact.ID, tagID); err != nil {
			return Contact{}, err
		}
	}
	contact.CreatedAt = now
	contact.UpdatedAt = now
	return contact, nil
}

func (r *repo) UpdateContact(ctx context.Context, id int64, contact Contact) error {
	query := `UPDATE contacts SET name = $1, email = $2, phone = $3, address = $4, is_vendor = $5, is_active = $6, updated_at = $7 WHERE id = $8`
	tag, err := r.db.Exec(ctx, query, contact.Name, contact.Email, contact.Phone, contact.Address, contact.IsVendor, contact.IsActive, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if contact.TagIDs != nil {
		if _, err := r.db.Exec(ctx, `DELETE FROM contact_tags WHERE contact_id = $1`, id); err != nil {
			return err
		}
		for _, tagID := range contact.TagIDs {
			if _, err := r.db.Exec(ctx, `INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)`, id, tagID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *repo) SetContactActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE contacts SET is_active = $1, updated_at = $2 WHERE id = $3`, active, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) ContactTagIDs(ctx context.Context, contactID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT tag_id FROM contact_tags WHERE contact_id = $1 ORDER BY tag_id`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Tag operations
func (r *repo) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r *repo) CreateTag(ctx context.Context, tag Tag) (Tag, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id`, tag.Name).Scan(&tag.ID)
	return tag, err
}

// Category operations
func (r *repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *repo) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.db.QueryRow(ctx, `SELECT id, name, parent_id FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.ParentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, shared.ErrNotFound
	}
	return c, err
}

func (r *repo) CreateCategory(ctx context.Context, category Category) (Category, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO categories (name, parent_id) VALUES ($1, $2) RETURNING id`, category.Name, category.ParentID).Scan(&category.ID)
	return category, err
}

// Product operations
func (r *repo) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if filters.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR sku ILIKE $%d)`, idx, idx)
		args = append(args, "%"+filters.Search+"%")
		idx++
	}
	if filters.IsActive != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *filters.IsActive)
		idx++
	}
	if filters.CategoryID != nil {
		where += fmt.Sprintf(` AND category_id = $%d`, idx)
		args = append(args, *filters.CategoryID)
		idx++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filters.Page > 1 {
		offset = (filters.Page - 1) * limit
	}
	query := `SELECT id, sku, name, category_id, price, is_active, created_at, updated_at FROM products` + where +
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	query := `SELECT id, sku, name, category_id, price, is_active, created_at, updated_at FROM products WHERE id = $1`
	var p Product
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, shared.ErrNotFound
	}
	return p, err
}

func (r *repo) CreateProduct(ctx context.Context, product Product) (Product, error) {
	query := `INSERT INTO products (sku, name, category_id, price, is_active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query, product.SKU, product.Name, product.CategoryID, product.Price, product.IsActive, now, now).Scan(&product.ID)
	if err != nil {
		return Product{}, err
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repo) UpdateProduct(ctx context.Context, id int64, product Product) error {
	query := `UPDATE products SET sku = $1, name = $2, category_id = $3, price = $4, is_active = $5, updated_at = $6 WHERE id = $7`
	tag, err := r.db.Exec(ctx, query, product.SKU, product.Name, product.CategoryID, product.Price, product.IsActive, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repo) SetProductActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET is_active = $1, updated_at = $2 WHERE id = $3`, active, time.Now(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
