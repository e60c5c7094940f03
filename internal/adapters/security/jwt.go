package security

import (
	"cmp"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/viralforge/mesh/services/data-ai/M07-media-upload-service/internal/ports"
)

// ErrSigningDisabled is returned by Sign on a verify-only key.
var ErrSigningDisabled = errors.New("token signing is disabled for this key")

type accessClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier checks RS256 bearer tokens minted by the authentication service. It only
// carries a private key for local development and tests.
type JWTVerifier struct {
	kid    string
	key    *rsa.PublicKey
	signer *rsa.PrivateKey
	parser *jwt.Parser
}

func newJWTVerifier(kid string, key *rsa.PublicKey, signer *rsa.PrivateKey) *JWTVerifier {
	return &JWTVerifier{
		kid:    kid,
		key:    key,
		signer: signer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
	}
}

func NewJWTVerifier(publicKeyPEM string) (*JWTVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(strings.TrimSpace(publicKeyPEM)))
	if err != nil {
		return nil, fmt.Errorf("jwt public key: %w", err)
	}
	return newJWTVerifier("", key, nil), nil
}

// NewJWTSigner accepts an optional public key; when present it must be the private
// key's own half.
func NewJWTSigner(kid, privateKeyPEM, publicKeyPEM string) (*JWTVerifier, error) {
	if strings.TrimSpace(kid) == "" {
		return nil, errors.New("jwt key id is required to sign")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(privateKeyPEM)))
	if err != nil {
		return nil, fmt.Errorf("jwt private key: %w", err)
	}
	if strings.TrimSpace(publicKeyPEM) != "" {
		pub, err := NewJWTVerifier(publicKeyPEM)
		if err != nil {
			return nil, err
		}
		if !pub.key.Equal(&priv.PublicKey) {
			return nil, errors.New("jwt public key does not match the private key")
		}
	}
	return newJWTVerifier(kid, &priv.PublicKey, priv), nil
}

func NewEphemeralJWTVerifier(kid string) (*JWTVerifier, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	return newJWTVerifier(cmp.Or(kid, "ephemeral"), &priv.PublicKey, priv), nil
}

func (v *JWTVerifier) Sign(claims ports.AuthClaims) (string, error) {
	if v.signer == nil {
		return "", ErrSigningDisabled
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, accessClaims{
		UserID: claims.UserID,
		Role:   claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = v.kid
	return token.SignedString(v.signer)
}

func (v *JWTVerifier) ParseAndValidate(raw string) (ports.AuthClaims, error) {
	var claims accessClaims
	token, err := v.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return ports.AuthClaims{}, err
	}
	userID := cmp.Or(strings.TrimSpace(claims.UserID), strings.TrimSpace(claims.Subject))
	if userID == "" {
		return ports.AuthClaims{}, errors.New("token has no subject")
	}
	out := ports.AuthClaims{UserID: userID, Role: claims.Role}
	out.KeyID, _ = token.Header["kid"].(string)
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}
