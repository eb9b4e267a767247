package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/ovenbird/bakehouse/internal/handlers"
	"github.com/ovenbird/bakehouse/internal/models"
	"github.com/ovenbird/bakehouse/internal/services"
	"github.com/stretchr/testify/assert"
)

func TestMFAEnroll_ReturnsProvisioningMaterial(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{
		EnrollFunc: func(ctx context.Context, userID string) (*services.EnrollmentResponse, error) {
			return &services.EnrollmentResponse{
				Secret:    "JBSWY3DPEHPK3PXP",
				QRCodeURL: "data:image/png;base64,xxx",
			}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/mfa/enroll", nil)
	req = handlers.WithAuthContext(req, "user-1", "marta@bakehouse.example")

	w := httptest.NewRecorder()
	handler.Enroll(w, req)

	var resp services.EnrollmentResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.NotEmpty(t, resp.Secret)
	assert.NotEmpty(t, resp.QRCodeURL)
}

func TestMFAEnroll_AlreadyEnabled(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{
		EnrollFunc: func(ctx context.Context, userID string) (*services.EnrollmentResponse, error) {
			return nil, models.ErrConflict
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/mfa/enroll", nil)
	req = handlers.WithAuthContext(req, "user-1", "marta@bakehouse.example")

	w := httptest.NewRecorder()
	handler.Enroll(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestMFAActivate_CodeLengthValidated(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{})

	req := handlers.NewTestRequest(t, "POST", "/api/mfa/activate", handlers.MFAActivateRequest{
		Code: "123", // must be exactly 6 digits
	})
	req = handlers.WithAuthContext(req, "user-1", "marta@bakehouse.example")

	w := httptest.NewRecorder()
	handler.Activate(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestMFADisable_WrongPassword(t *testing.T) {
	handler := handlers.NewMFAHandler(&handlers.MockMFAService{
		DisableFunc: func(ctx context.Context, userID, password string) error {
			return models.ErrUnauthorized
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/api/mfa/disable", handlers.MFADisableRequest{
		Password: "not-the-password",
	})
	req = handlers.WithAuthContext(req, "user-1", "marta@bakehouse.example")

	w := httptest.NewRecorder()
	handler.Disable(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
