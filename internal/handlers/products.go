package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ovenbird/bakehouse/internal/models"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
)

// ProductServiceInterface defines the interface for catalog operations
type ProductServiceInterface interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, category string, limit, offset int) ([]*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, id string, product *models.Product) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
}

// ProductHandler handles catalog HTTP requests
type ProductHandler struct {
	service ProductServiceInterface
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(service ProductServiceInterface) *ProductHandler {
	return &ProductHandler{service: service}
}

// ProductRequest represents a create/update catalog request
type ProductRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"required,oneof=bread pastry cake cookie"`
	PriceCents  int    `json:"price_cents" validate:"required,gt=0"`
	Available   bool   `json:"available"`
	ImageURL    string `json:"image_url" validate:"omitempty,url,max=500"`
}

// List returns catalog items, optionally filtered by category
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	limit, offset := parsePagination(r, 20, 100)

	products, err := h.service.ListProducts(r.Context(), category, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Unknown category")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"limit":    limit,
		"offset":   offset,
	})
}

// Get returns one catalog item
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Product not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, product)
}

// Create adds a catalog item
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeProductRequest(w, r)
	if !ok {
		return
	}

	created, err := h.service.CreateProduct(r.Context(), req.toModel())
	if err != nil {
		writeProductError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, created)
}

// Update replaces a catalog item
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, ok := decodeProductRequest(w, r)
	if !ok {
		return
	}

	updated, err := h.service.UpdateProduct(r.Context(), id, req.toModel())
	if err != nil {
		writeProductError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, updated)
}

// Delete removes a catalog item
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Product not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (req *ProductRequest) toModel() *models.Product {
	return &models.Product{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		Available:   req.Available,
		ImageURL:    req.ImageURL,
	}
}

func decodeProductRequest(w http.ResponseWriter, r *http.Request) (*ProductRequest, bool) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return &req, true
}

func writeProductError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Product not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "A product with that name already exists")
	case errors.Is(err, models.ErrInternalServer):
		pkghttp.WriteInternalError(w, "Internal server error")
	default:
		pkghttp.WriteBadRequest(w, err.Error())
	}
}

// parsePagination reads limit/offset query params with sane bounds
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
