package service

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 3 * time.Hour

// Signer issues short-lived RS512 job credentials with the job id as
// subject
type Signer struct {
	key *rsa.PrivateKey
	ttl time.Duration
}

// NewSigner parses the PEM-encoded RSA private key used to sign job
// credentials
func NewSigner(pemKey string, ttl time.Duration) (*Signer, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse jwt signing key: %w", err)
	}

	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &Signer{key: key, ttl: ttl}, nil
}

// JobToken signs a credential scoped to one job id and site
func (s *Signer) JobToken(jobID, site string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  "job-board",
		"sub":  jobID,
		"site": site,
		"iat":  now.Unix(),
		"exp":  now.Add(s.ttl).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS512, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign job token: %w", err)
	}

	return token, nil
}
