// Package shared holds the normalized wire types, the failure taxonomy and
// small helpers used across the gateway.
package shared

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrMissingBearer reports a request to a guarded gateway endpoint without a
// usable Authorization header. Distinct from ErrProviderAuth, which is about
// a backend rejecting the gateway's own credentials.
var ErrMissingBearer = errors.New("missing or malformed bearer token")

func SafeEnv(env string) (string, error) {
	res, present := os.LookupEnv(env)
	if !present {
		return "", fmt.Errorf("missing environment variable %s", env)
	}
	return res, nil
}

func GetEnv(env, fallback string) string {
	if value, ok := os.LookupEnv(env); ok {
		return value
	}
	return fallback
}

// ExtractBearer pulls the bearer token from the Authorization header.
// Used only to guard the metrics endpoint.
func ExtractBearer(c echo.Context) (string, error) {
	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrMissingBearer
	}
	return parts[1], nil
}
