package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// Argon2id cost parameters for stored API keys.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrInvalidCredentials is returned for an unknown operator or a wrong key.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// HashAPIKey returns "salt$hash", both base64 encoded.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(sum), nil
}

// VerifyAPIKey reports whether apiKey matches a hash from HashAPIKey.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	saltB64, sumB64, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, fmt.Errorf("auth: invalid hash format")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(sumB64)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// dummyVerify burns the same work as a real check so an unknown operator id
// takes as long to reject as a wrong key.
func dummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// OperatorStore is the persistence the Authenticator needs. Both the Postgres
// and SQLite stores implement it.
type OperatorStore interface {
	CreateOperator(ctx context.Context, op model.Operator) (model.Operator, error)
	GetOperator(ctx context.Context, operatorID string) (model.Operator, error)
	CountOperators(ctx context.Context) (int, error)
}

// Authenticator exchanges operator API keys for tokens.
type Authenticator struct {
	store  OperatorStore
	jwt    *JWTManager
	logger *slog.Logger
}

// NewAuthenticator returns an Authenticator over store.
func NewAuthenticator(store OperatorStore, jwt *JWTManager, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Authenticator{store: store, jwt: jwt, logger: logger}
}

// JWT returns the token manager.
func (a *Authenticator) JWT() *JWTManager { return a.jwt }

// BootstrapAdmin creates the "admin" operator with apiKey when no operator
// exists yet. It is a no-op once any operator is registered.
func (a *Authenticator) BootstrapAdmin(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return nil
	}
	n, err := a.store.CountOperators(ctx)
	if err != nil {
		return fmt.Errorf("auth: bootstrap admin: %w", err)
	}
	if n > 0 {
		return nil
	}
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return err
	}
	if _, err := a.store.CreateOperator(ctx, model.Operator{
		OperatorID: "admin",
		Name:       "admin",
		Role:       model.RoleAdmin,
		APIKeyHash: hash,
	}); err != nil {
		return fmt.Errorf("auth: bootstrap admin: %w", err)
	}
	a.logger.Info("auth: bootstrapped admin operator")
	return nil
}

// CreateOperator registers an operator with a hashed API key.
func (a *Authenticator) CreateOperator(ctx context.Context, operatorID, name string, role model.OperatorRole, apiKey string) (model.Operator, error) {
	if err := model.ValidateOperatorID(operatorID); err != nil {
		return model.Operator{}, fmt.Errorf("auth: %w", err)
	}
	if model.RoleRank(role) == 0 {
		return model.Operator{}, fmt.Errorf("auth: unknown role %q", role)
	}
	hash, err := HashAPIKey(apiKey)
	if err != nil {
		return model.Operator{}, err
	}
	return a.store.CreateOperator(ctx, model.Operator{OperatorID: operatorID, Name: name, Role: role, APIKeyHash: hash})
}

// Authenticate checks an operator's API key and issues a token.
func (a *Authenticator) Authenticate(ctx context.Context, operatorID, apiKey string) (string, model.Operator, error) {
	op, err := a.store.GetOperator(ctx, operatorID)
	if errors.Is(err, model.ErrNotFound) {
		dummyVerify()
		return "", model.Operator{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", model.Operator{}, fmt.Errorf("auth: authenticate: %w", err)
	}
	ok, err := VerifyAPIKey(apiKey, op.APIKeyHash)
	if err != nil {
		a.logger.Warn("auth: stored key hash unreadable", "operator_id", operatorID, "error", err)
		return "", model.Operator{}, ErrInvalidCredentials
	}
	if !ok {
		return "", model.Operator{}, ErrInvalidCredentials
	}
	token, _, err := a.jwt.IssueToken(op)
	if err != nil {
		return "", model.Operator{}, err
	}
	return token, op, nil
}
