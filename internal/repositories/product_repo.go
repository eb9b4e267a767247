package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ovenbird/bakehouse/internal/database"
	"github.com/ovenbird/bakehouse/internal/models"
)

const productColumns = `id, name, description, category, price_cents, available, image_url, created_at, updated_at`

// ProductRepository handles bakery catalog data access
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{pool: db.Pool}
}

func scanProductRow(row rowScanner) (*models.Product, error) {
	var product models.Product
	var imageURL *string

	err := row.Scan(
		&product.ID, &product.Name, &product.Description, &product.Category,
		&product.PriceCents, &product.Available, &imageURL,
		&product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if imageURL != nil {
		product.ImageURL = *imageURL
	}
	return &product, nil
}

func scanProductRows(rows pgx.Rows) ([]*models.Product, error) {
	defer rows.Close()

	products := make([]*models.Product, 0)

	for rows.Next() {
		product, err := scanProductRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}

	return products, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	return scanProductRow(r.pool.QueryRow(ctx, query, id))
}

// List returns catalog items, optionally filtered by category.
func (r *ProductRepository) List(ctx context.Context, category string, limit, offset int) ([]*models.Product, error) {
	var rows pgx.Rows
	var err error

	if category != "" {
		query := `SELECT ` + productColumns + ` FROM products WHERE category = $1 ORDER BY name LIMIT $2 OFFSET $3`
		rows, err = r.pool.Query(ctx, query, category, limit, offset)
	} else {
		query := `SELECT ` + productColumns + ` FROM products ORDER BY name LIMIT $1 OFFSET $2`
		rows, err = r.pool.Query(ctx, query, limit, offset)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	return scanProductRows(rows)
}

func (r *ProductRepository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	product.ID = uuid.New().String()

	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	query := `
		INSERT INTO products (id, name, description, category, price_cents, available, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + productColumns

	var imageURL *string
	if product.ImageURL != "" {
		imageURL = &product.ImageURL
	}

	return scanProductRow(r.pool.QueryRow(ctx, query,
		product.ID, product.Name, product.Description, product.Category,
		product.PriceCents, product.Available, imageURL,
		product.CreatedAt, product.UpdatedAt,
	))
}

func (r *ProductRepository) Update(ctx context.Context, id string, product *models.Product) (*models.Product, error) {
	product.UpdatedAt = time.Now()

	query := `
		UPDATE products SET name = $1, description = $2, category = $3, price_cents = $4, available = $5, image_url = $6, updated_at = $7
		WHERE id = $8
		RETURNING ` + productColumns

	var imageURL *string
	if product.ImageURL != "" {
		imageURL = &product.ImageURL
	}

	return scanProductRow(r.pool.QueryRow(ctx, query,
		product.Name, product.Description, product.Category,
		product.PriceCents, product.Available, imageURL, product.UpdatedAt, id,
	))
}

func (r *ProductRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM products WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
