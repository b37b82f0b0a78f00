package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/toser-api/internal/utils"
)

var (
	errMissingToken = errors.New("authorization header missing")
	errMalformed    = errors.New("invalid authorization header")
	errInvalidToken = errors.New("invalid token")
)

var hmacMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// JWTProtected rejects requests without a valid HMAC-signed bearer token and
// exposes user_id and user_role to later handlers.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods(hmacMethods), jwt.WithExpirationRequired())
	return func(c *fiber.Ctx) error {
		if err := authenticate(c, parser, secret); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}
		return c.Next()
	}
}

// JWTOptional attaches the caller's identity when a valid token is present and
// lets anonymous requests through. A present but invalid token is rejected.
func JWTOptional(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods(hmacMethods), jwt.WithExpirationRequired())
	return func(c *fiber.Ctx) error {
		err := authenticate(c, parser, secret)
		if err != nil && !errors.Is(err, errMissingToken) {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}
		return c.Next()
	}
}

func authenticate(c *fiber.Ctx, parser *jwt.Parser, secret string) error {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		return errMissingToken
	}

	scheme, tokenString, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return errMalformed
	}
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return errInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return errInvalidToken
	}

	if userID := extractUserIDFromClaims(claims); userID != nil {
		c.Locals("user_id", *userID)
	}
	if role := extractUserRoleFromClaims(claims); role != "" {
		c.Locals("user_role", role)
	}
	return nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) *uint {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if normalized, err := normalizeUserID(value); err == nil {
				return &normalized
			}
		}
	}
	return nil
}

func normalizeUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v <= 0 || v != float64(uint(v)) {
			return 0, fmt.Errorf("invalid subject %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed == 0 {
			return 0, fmt.Errorf("invalid subject %q", v)
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		if role := normalizeRole(claims[key]); role != "" {
			return role
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if role := normalizeRole(item); role != "" {
				return role
			}
		}
	}
	return ""
}
