package biz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"golang.org/x/crypto/bcrypt"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/store"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

type AuthConfig struct {
	// SecretKey signs the HS256 session tokens.
	SecretKey string        `conf:"secret_key" yaml:"secret_key" json:"secret_key"`
	TokenTTL  time.Duration `conf:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
}

type AuthServiceParams struct {
	fx.In

	Config AuthConfig
	DB     *tenantdb.Client
}

func NewAuthService(params AuthServiceParams) *AuthService {
	return &AuthService{
		AbstractService: &AbstractService{
			db: params.DB,
		},
		Config: params.Config,
	}
}

type AuthService struct {
	*AbstractService

	Config AuthConfig
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hashedBytes), nil
}

// VerifyPassword verifies a password against its hash.
func VerifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateSecretKey generates a random secret key for JWT.
func GenerateSecretKey() (string, error) {
	bytes := make([]byte, 32)

	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(bytes), nil
}

func (s *AuthService) secretKey() ([]byte, error) {
	if s.Config.SecretKey == "" {
		return nil, errors.New("auth secret key is not configured")
	}

	return []byte(s.Config.SecretKey), nil
}

// GenerateJWTToken generates a session token binding user to its tenant.
func (s *AuthService) GenerateJWTToken(ctx context.Context, user objects.UserInfo) (string, error) {
	secretKey, err := s.secretKey()
	if err != nil {
		return "", err
	}

	ttl := s.Config.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       user.ID.String(),
		"tenant_id": user.TenantID.String(),
		"role":      user.Role,
		"exp":       time.Now().Add(ttl).Unix(),
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// AuthenticateUser authenticates a user with email and password.
// Users are a global model, so the lookup needs no tenant and no override.
func (s *AuthService) AuthenticateUser(ctx context.Context, email, password string) (objects.UserInfo, error) {
	row, err := s.db.First(ctx, scopes.ModelUsers, tenantdb.Query{
		Filter: intercept.Where(intercept.EQ("email", email)),
	})
	if err != nil {
		if errors.Is(err, tenantdb.ErrNotFound) {
			return objects.UserInfo{}, fmt.Errorf("invalid email or password: %w", ErrInvalidPassword)
		}

		log.Error(ctx, "failed to get user", log.Cause(err))

		return objects.UserInfo{}, ErrInternal
	}

	hash, _ := row["password"].(string)
	if err := VerifyPassword(hash, password); err != nil {
		return objects.UserInfo{}, fmt.Errorf("invalid email or password %w", ErrInvalidPassword)
	}

	user, err := userInfo(row)
	if err != nil {
		log.Error(ctx, "malformed user row", log.Cause(err))
		return objects.UserInfo{}, ErrInternal
	}

	log.Debug(ctx, "user authenticated", log.String("user_id", user.ID.String()))

	return user, nil
}

// AuthenticateJWTToken validates a session token and returns the execution it grants.
func (s *AuthService) AuthenticateJWTToken(ctx context.Context, tokenString string) (contexts.Execution, error) {
	secretKey, err := s.secretKey()
	if err != nil {
		return contexts.Execution{}, err
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method: %v", ErrInvalidJWT, token.Header["alg"])
		}

		return secretKey, nil
	})
	if err != nil {
		return contexts.Execution{}, fmt.Errorf("%w: failed to parse jwt token: %w", ErrInvalidJWT, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return contexts.Execution{}, fmt.Errorf("%w: invalid token", ErrInvalidJWT)
	}

	actorID, err := uuidClaim(claims, "sub")
	if err != nil {
		return contexts.Execution{}, err
	}

	tenantID, err := uuidClaim(claims, "tenant_id")
	if err != nil {
		return contexts.Execution{}, err
	}

	role, _ := claims["role"].(string)

	if _, err := s.db.Get(ctx, scopes.ModelUsers, actorID); err != nil {
		return contexts.Execution{}, fmt.Errorf("%w: failed to get user: %w", ErrInvalidJWT, err)
	}

	return contexts.Execution{
		ActorID:  actorID,
		TenantID: tenantID,
		Role:     role,
		Source:   contexts.SourceHTTP,
	}, nil
}

func uuidClaim(claims jwt.MapClaims, name string) (uuid.UUID, error) {
	raw, ok := claims[name].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: missing %s claim", ErrInvalidJWT, name)
	}

	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s claim", ErrInvalidJWT, name)
	}

	return id, nil
}

func userInfo(row store.Row) (objects.UserInfo, error) {
	id, err := parseUUID(row["id"])
	if err != nil {
		return objects.UserInfo{}, fmt.Errorf("user id: %w", err)
	}

	tenantID, err := parseUUID(row["id_doanh_nghiep"])
	if err != nil {
		return objects.UserInfo{}, fmt.Errorf("user tenant: %w", err)
	}

	email, _ := row["email"].(string)
	role, _ := row["role"].(string)

	return objects.UserInfo{ID: id, Email: email, TenantID: tenantID, Role: role}, nil
}

func parseUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		return uuid.Parse(x)
	default:
		return uuid.Nil, fmt.Errorf("unexpected id type %T", v)
	}
}
