package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ovenbird/bakehouse/internal/auth"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/services"
	pkghttp "github.com/ovenbird/bakehouse/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID, email string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	RegisterFunc     func(ctx context.Context, email, password, firstName, lastName string) (*models.User, error)
	LoginFunc        func(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error)
	VerifyMFAFunc    func(ctx context.Context, mfaToken, code, ipAddress string) (*services.AuthResponse, error)
	RefreshTokenFunc func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	LogoutFunc       func(ctx context.Context, accessToken, refreshToken string) error
}

func (m *MockAuthService) Register(ctx context.Context, email, password, firstName, lastName string) (*models.User, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, email, password, firstName, lastName)
}

func (m *MockAuthService) Login(ctx context.Context, email, password, ipAddress string) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, ipAddress)
}

func (m *MockAuthService) VerifyMFA(ctx context.Context, mfaToken, code, ipAddress string) (*services.AuthResponse, error) {
	if m.VerifyMFAFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.VerifyMFAFunc(ctx, mfaToken, code, ipAddress)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, accessToken, refreshToken)
}

// MockVerificationService implements EmailVerificationServiceInterface for testing
type MockVerificationService struct {
	SendVerificationEmailFunc func(ctx context.Context, userID, email string) error
	VerifyEmailFunc           func(ctx context.Context, plainToken string) (string, error)
	ResendVerificationFunc    func(ctx context.Context, email string) error
}

func (m *MockVerificationService) SendVerificationEmail(ctx context.Context, userID, email string) error {
	if m.SendVerificationEmailFunc == nil {
		return nil
	}
	return m.SendVerificationEmailFunc(ctx, userID, email)
}

func (m *MockVerificationService) VerifyEmail(ctx context.Context, plainToken string) (string, error) {
	if m.VerifyEmailFunc == nil {
		return "", models.ErrUnauthorized
	}
	return m.VerifyEmailFunc(ctx, plainToken)
}

func (m *MockVerificationService) ResendVerification(ctx context.Context, email string) error {
	if m.ResendVerificationFunc == nil {
		return nil
	}
	return m.ResendVerificationFunc(ctx, email)
}

// MockResetService implements PasswordResetServiceInterface for testing
type MockResetService struct {
	RequestResetFunc  func(ctx context.Context, email, ipAddress string) error
	ResetPasswordFunc func(ctx context.Context, plainToken, newPassword string) error
}

func (m *MockResetService) RequestReset(ctx context.Context, email, ipAddress string) error {
	if m.RequestResetFunc == nil {
		return nil
	}
	return m.RequestResetFunc(ctx, email, ipAddress)
}

func (m *MockResetService) ResetPassword(ctx context.Context, plainToken, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrUnauthorized
	}
	return m.ResetPasswordFunc(ctx, plainToken, newPassword)
}

// MockUserService implements UserServiceInterface for testing
type MockUserService struct {
	GetUserByIDFunc   func(ctx context.Context, id string) (*models.User, error)
	UpdateProfileFunc func(ctx context.Context, id, firstName, lastName string) (*models.User, error)
	ListUsersFunc     func(ctx context.Context, limit, offset int) ([]*models.User, error)
}

func (m *MockUserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserByIDFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetUserByIDFunc(ctx, id)
}

func (m *MockUserService) UpdateProfile(ctx context.Context, id, firstName, lastName string) (*models.User, error) {
	if m.UpdateProfileFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateProfileFunc(ctx, id, firstName, lastName)
}

func (m *MockUserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListUsersFunc == nil {
		return []*models.User{}, nil
	}
	return m.ListUsersFunc(ctx, limit, offset)
}

// MockProductService implements ProductServiceInterface for testing
type MockProductService struct {
	GetProductFunc    func(ctx context.Context, id string) (*models.Product, error)
	ListProductsFunc  func(ctx context.Context, category string, limit, offset int) ([]*models.Product, error)
	CreateProductFunc func(ctx context.Context, product *models.Product) (*models.Product, error)
	UpdateProductFunc func(ctx context.Context, id string, product *models.Product) (*models.Product, error)
	DeleteProductFunc func(ctx context.Context, id string) error
}

func (m *MockProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if m.GetProductFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetProductFunc(ctx, id)
}

func (m *MockProductService) ListProducts(ctx context.Context, category string, limit, offset int) ([]*models.Product, error) {
	if m.ListProductsFunc == nil {
		return []*models.Product{}, nil
	}
	return m.ListProductsFunc(ctx, category, limit, offset)
}

func (m *MockProductService) CreateProduct(ctx context.Context, product *models.Product) (*models.Product, error) {
	if m.CreateProductFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.CreateProductFunc(ctx, product)
}

func (m *MockProductService) UpdateProduct(ctx context.Context, id string, product *models.Product) (*models.Product, error) {
	if m.UpdateProductFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateProductFunc(ctx, id, product)
}

func (m *MockProductService) DeleteProduct(ctx context.Context, id string) error {
	if m.DeleteProductFunc == nil {
		return nil
	}
	return m.DeleteProductFunc(ctx, id)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	EnrollFunc   func(ctx context.Context, userID string) (*services.EnrollmentResponse, error)
	ActivateFunc func(ctx context.Context, userID, code string) error
	DisableFunc  func(ctx context.Context, userID, password string) error
}

func (m *MockMFAService) Enroll(ctx context.Context, userID string) (*services.EnrollmentResponse, error) {
	if m.EnrollFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnrollFunc(ctx, userID)
}

func (m *MockMFAService) Activate(ctx context.Context, userID, code string) error {
	if m.ActivateFunc == nil {
		return models.ErrUnauthorized
	}
	return m.ActivateFunc(ctx, userID, code)
}

func (m *MockMFAService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc == nil {
		return models.ErrUnauthorized
	}
	return m.DisableFunc(ctx, userID, password)
}
