package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"estatehub/internal/common"
	"estatehub/internal/models"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// JWTConfig selects how bearer tokens are verified: a shared HMAC secret,
// or a JWKS endpoint when JWKSURL is set.
type JWTConfig struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens and puts the caller on the request context.
type Authenticator struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	jwks    *keyfunc.JWKS
	logger  logrus.FieldLogger
}

func NewAuthenticator(cfg JWTConfig, logger logrus.FieldLogger) (*Authenticator, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired(), jwt.WithLeeway(30 * time.Second)}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	a := &Authenticator{logger: logger}
	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("failed to refresh JWKS")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load JWKS: %w", err)
		}
		a.jwks = jwks
		a.keyfunc = jwks.Keyfunc
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "ES256", "EdDSA"}))
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		a.keyfunc = func(*jwt.Token) (interface{}, error) { return secret, nil }
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	default:
		return nil, errors.New("jwt: either a secret or a JWKS URL is required")
	}

	a.parser = jwt.NewParser(opts...)
	return a, nil
}

// Close stops background JWKS refreshes.
func (a *Authenticator) Close() {
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if authHeader == "" || tokenString == authHeader {
				return common.SendUnauthorizedError(c)
			}

			actor, err := a.authenticate(tokenString)
			if err != nil {
				a.logger.WithError(err).WithField("path", c.Path()).Debug("rejected bearer token")
				return common.SendUnauthorizedError(c)
			}

			c.SetRequest(c.Request().WithContext(common.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func (a *Authenticator) authenticate(tokenString string) (models.Actor, error) {
	claims := &actorClaims{}
	if _, err := a.parser.ParseWithClaims(tokenString, claims, a.keyfunc); err != nil {
		return models.Actor{}, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, fmt.Errorf("subject %q is not a user id", claims.Subject)
	}

	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	return models.Actor{UserID: userID, Role: role}, nil
}
