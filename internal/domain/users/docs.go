package users

import (
	"net/http"

	"github.com/genmed/genmed/internal/platform/openapi"
)

// Operations documents the routes RegisterRoutes mounts under prefix.
func (h *Handler) Operations(prefix string) []openapi.Operation {
	return []openapi.Operation{
		{
			Method: http.MethodPost, Path: prefix + "/register", Tag: "users",
			Summary:  "Register an ASHA worker or doctor",
			Request:  RegisterRequest{},
			Response: MessageResponse{},
			Errors:   []int{http.StatusBadRequest},
		},
		{
			Method: http.MethodPost, Path: prefix + "/login", Tag: "users",
			Summary:  "Exchange credentials for a bearer token",
			Request:  LoginRequest{},
			Response: TokenResponse{},
			Errors:   []int{http.StatusBadRequest, http.StatusUnauthorized},
		},
	}
}
