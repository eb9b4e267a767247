package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ovenbird/bakehouse/internal/models"
)

// ProductRepository defines the interface for catalog data access
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context, category string, limit, offset int) ([]*models.Product, error)
	Create(ctx context.Context, product *models.Product) (*models.Product, error)
	Update(ctx context.Context, id string, product *models.Product) (*models.Product, error)
	Delete(ctx context.Context, id string) error
}

var validCategories = map[string]bool{
	"bread":  true,
	"pastry": true,
	"cake":   true,
	"cookie": true,
}

// ProductService handles catalog business logic
type ProductService struct {
	repo   ProductRepository
	logger *slog.Logger
}

// NewProductService creates a new ProductService
func NewProductService(repo ProductRepository, logger *slog.Logger) *ProductService {
	return &ProductService{repo: repo, logger: logger}
}

// GetProduct retrieves one catalog item
func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get product", slog.String("product_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return product, nil
}

// ListProducts retrieves catalog items, optionally filtered by category
func (s *ProductService) ListProducts(ctx context.Context, category string, limit, offset int) ([]*models.Product, error) {
	if category != "" && !validCategories[category] {
		return nil, models.ErrBadRequest
	}

	products, err := s.repo.List(ctx, category, limit, offset)
	if err != nil {
		s.logger.Error("failed to list products", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return products, nil
}

// CreateProduct adds a catalog item (admin only, enforced at the route)
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, product)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create product", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("product created",
		slog.String("product_id", created.ID),
		slog.String("name", created.Name))
	return created, nil
}

// UpdateProduct updates a catalog item
func (s *ProductService) UpdateProduct(ctx context.Context, id string, product *models.Product) (*models.Product, error) {
	if err := validateProduct(product); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, product)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to update product", slog.String("product_id", id), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return updated, nil
}

// DeleteProduct removes a catalog item
func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to delete product", slog.String("product_id", id), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

func validateProduct(product *models.Product) error {
	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("product name is required")
	}
	if !validCategories[product.Category] {
		return fmt.Errorf("invalid category: %s", product.Category)
	}
	if product.PriceCents <= 0 {
		return fmt.Errorf("price must be positive")
	}
	return nil
}
