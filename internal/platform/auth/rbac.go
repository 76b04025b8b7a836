package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles carried in the JWT "roles" claim.
const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
)

// HasRole reports whether roles grants any of allowed. RoleAdmin grants all.
func HasRole(roles []string, allowed ...string) bool {
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}

// RequireRole rejects requests whose identity holds none of allowed with 403.
func RequireRole(allowed ...string) echo.MiddlewareFunc {
	msg := "required role: " + strings.Join(allowed, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasRole(RolesFromContext(c.Request().Context()), allowed...) {
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}
