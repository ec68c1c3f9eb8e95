// Package auth holds the balancer's admission-time checks: the bearer
// token compared against its own API key (§4.6 -- client authentication
// is explicitly out of scope; this guards the balancer's own control
// surface and proxy) and the WS upgrade's allowed-origin list.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"strings"

	"github.com/dyc3/ott-balancer/internal/v1/logging"
)

// Validator compares a bearer token against a single configured API key
// using a constant-time comparison, so it leaks nothing about how much
// of the token matched.
type Validator struct {
	apiKey []byte
}

// NewValidator builds a Validator for the given API key. An empty key
// means every token is rejected.
func NewValidator(apiKey string) *Validator {
	return &Validator{apiKey: []byte(apiKey)}
}

// Valid reports whether token matches the configured API key.
func (v *Validator) Valid(token string) bool {
	if len(v.apiKey) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(v.apiKey, []byte(token)) == 1
}

// MockValidator accepts any non-empty token. It is used in place of
// Validator when SKIP_AUTH is set (local development), whether or not an
// API key is configured.
type MockValidator struct{}

func (m *MockValidator) Valid(token string) bool { return token != "" }

// TokenChecker is satisfied by both Validator and MockValidator.
type TokenChecker interface {
	Valid(token string) bool
}

func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	// Example: ALLOWED_ORIGINS="http://localhost:3000,https://your-app.com"
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}
