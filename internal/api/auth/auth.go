// Package auth gates job-scoped requests behind shared basic credentials
// or signed bearer tokens, and attaches routing metadata to the request
// context.
package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	principalKey = "auth.principal"
	siteKey      = "travis.site"
	infraKey     = "travis.infra"

	// SourceGuest marks the fixed guest identity
	SourceGuest = "guest"
	// SourceBasic marks a shared basic-auth identity
	SourceBasic = "basic"
	// SourceBearer marks a verified bearer-token identity
	SourceBearer = "bearer"
)

// sitePathPattern matches job-scoped paths that require the routing header
var sitePathPattern = regexp.MustCompile(`^/jobs.+`)

// jobIDPattern extracts the job id a bearer token must be scoped to
var jobIDPattern = regexp.MustCompile(`jobs/(\d+)`)

// Principal is the immutable authenticated identity for one request
type Principal struct {
	Name   string
	Source string
}

// Guest reports whether the principal is the fixed guest identity
func (p Principal) Guest() bool {
	return p.Source == SourceGuest
}

// Gateway authenticates inbound requests
type Gateway struct {
	tokens []string
	key    *rsa.PublicKey
	logger *slog.Logger
}

// NewGateway creates an authentication gateway. rawTokens is the shared
// basic-auth allow-list: comma-separated username:password pairs, or,
// when the value contains no comma, colon-separated bare tokens.
func NewGateway(rawTokens string, key *rsa.PublicKey, logger *slog.Logger) *Gateway {
	return &Gateway{
		tokens: parseAuthTokens(rawTokens),
		key:    key,
		logger: logger,
	}
}

// ParsePublicKey parses the PEM-encoded RSA public key used to verify
// bearer tokens
func ParsePublicKey(pemKey string) (*rsa.PublicKey, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwt public key: %w", err)
	}
	return key, nil
}

// Middleware authenticates every request routed through it. Job-scoped
// paths without a Travis-Site header are rejected before any credential
// check.
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		if sitePathPattern.MatchString(path) {
			if _, ok := c.Request.Header["Travis-Site"]; !ok {
				c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{
					"@type": "error",
					"error": "missing Travis-Site header",
				})
				return
			}
		}

		authz := c.GetHeader("Authorization")
		if authz == "" {
			g.unauthorized(c)
			return
		}

		scheme, params := splitAuthorization(authz)
		if scheme != "basic" && scheme != "bearer" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"@type": "error",
				"error": "bad request",
			})
			return
		}

		site := c.GetHeader("Travis-Site")
		if site == "" {
			site = "?"
		}
		c.Set(siteKey, site)
		c.Set(infraKey, c.GetHeader("Travis-Infrastructure"))

		if scheme == "basic" {
			username, password, ok := decodeBasic(params)
			if !ok || !g.basicValid(username, password) {
				g.unauthorized(c)
				return
			}

			source := SourceBasic
			if username == "guest" {
				source = SourceGuest
			}
			c.Set(principalKey, Principal{Name: username, Source: source})
			c.Next()
			return
		}

		jobID := jobIDFromPath(path)
		claims, err := g.decodeJWT(params, jobID)
		if err != nil {
			g.logger.Warn("failed to decode jwt",
				slog.Any("error", err),
			)
			g.unauthorized(c)
			return
		}

		if jobID == "" || params == "" || claims == nil {
			g.unauthorized(c)
			return
		}

		c.Set(principalKey, Principal{Name: claims.Subject, Source: SourceBearer})
		c.Next()
	}
}

// RequireNonGuest forbids the guest identity from job-mutating endpoints
func RequireNonGuest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := PrincipalFromContext(c); ok && p.Guest() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"@type": "error",
				"error": "just no",
			})
		}
	}
}

// PrincipalFromContext returns the authenticated principal, if any
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// SiteFromContext returns the routing site attached by the gateway
func SiteFromContext(c *gin.Context) string {
	return c.GetString(siteKey)
}

// InfraFromContext returns the infrastructure hint attached by the gateway
func InfraFromContext(c *gin.Context) string {
	return c.GetString(infraKey)
}

func (g *Gateway) unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="job-board"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"@type": "error",
		"error": "unauthorized",
	})
}

// decodeJWT verifies an RS512 bearer token. The subject claim is bound
// to the job id from the path during decode.
func (g *Gateway) decodeJWT(tokenString, jobID string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS512.Alg()}),
	}
	if jobID != "" {
		opts = append(opts, jwt.WithSubject(jobID))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return g.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

func (g *Gateway) basicValid(username, password string) bool {
	if username == "guest" && password == "guest" {
		return true
	}

	for _, token := range g.tokens {
		if token == username || token == username+":"+password {
			return true
		}
	}

	return false
}

// splitAuthorization breaks an Authorization header into its lowercased
// scheme and parameter portion
func splitAuthorization(authz string) (scheme, params string) {
	parts := strings.SplitN(authz, " ", 2)
	scheme = strings.ToLower(parts[0])
	if len(parts) == 2 {
		params = strings.TrimSpace(parts[1])
	}
	return scheme, params
}

func decodeBasic(params string) (username, password string, ok bool) {
	decoded, err := base64.StdEncoding.DecodeString(params)
	if err != nil {
		return "", "", false
	}

	username, password, _ = strings.Cut(string(decoded), ":")
	return username, password, true
}

func jobIDFromPath(path string) string {
	match := jobIDPattern.FindStringSubmatch(path)
	if match == nil {
		return ""
	}
	return match[1]
}

// parseAuthTokens preserves the historical allow-list format: a value
// containing a comma is a comma-separated list of username:password
// pairs; otherwise it is a colon-separated list of bare tokens.
func parseAuthTokens(raw string) []string {
	if raw == "" {
		return nil
	}

	if !strings.Contains(raw, ",") {
		var tokens []string
		for _, token := range strings.Split(raw, ":") {
			tokens = append(tokens, strings.TrimSpace(token))
		}
		return tokens
	}

	var tokens []string
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.Split(pair, ":")
		for i, part := range parts {
			parts[i] = strings.TrimSpace(part)
		}
		tokens = append(tokens, strings.Join(parts, ":"))
	}
	return tokens
}
