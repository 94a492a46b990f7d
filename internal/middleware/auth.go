package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/storyforge/api/pkg/response"
)

const tokenIssuer = "storyforge-api"

type AuthMiddleware struct {
	secret   []byte
	tokenTTL time.Duration
}

// Claims carries the authenticated identity through a request.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(secret string, tokenTTLHours int) *AuthMiddleware {
	if tokenTTLHours <= 0 {
		tokenTTLHours = 24
	}
	return &AuthMiddleware{
		secret:   []byte(secret),
		tokenTTL: time.Duration(tokenTTLHours) * time.Hour,
	}
}

// Authenticate validates the bearer token and stores the caller's
// identity in the request context.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := m.parseBearer(c.Get("Authorization"))
		if err != nil {
			return response.Unauthorized(c, err.Error())
		}

		claims := token.Claims.(*Claims)
		c.Locals("userId", claims.UserID)
		c.Locals("email", claims.Email)

		return c.Next()
	}
}

func (m *AuthMiddleware) parseBearer(header string) (*jwt.Token, error) {
	if header == "" {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid authorization header format")
	}

	token, err := jwt.ParseWithClaims(parts[1], &Claims{},
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil || !token.Valid {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
	}
	return token, nil
}

// GetUserID extracts the authenticated user id from the request context.
func GetUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("userId").(string)
	return userID
}

// GetUserEmail extracts the authenticated email from the request context.
func GetUserEmail(c *fiber.Ctx) string {
	email, _ := c.Locals("email").(string)
	return email
}

// GenerateToken issues a signed token for the user. Tests and local
// tooling use this; production tokens come from the auth service.
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
