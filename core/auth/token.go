// Package auth implements the HMAC-signed operator tokens that gate the
// dashboard's mutating endpoints (admission mode changes, cancellation).
// Adapted from control_plane/auth/jwt.go's tenant/role token, narrowed from
// multi-tenant claims to a single Role claim since this core has no
// tenancy concept of its own.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Role identifies what an operator token is allowed to do against the
// dashboard's admin endpoints.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// Claims is the payload of an operator token.
type Claims struct {
	Role      Role   `json:"role"`
	Issuer    string `json:"iss"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

const (
	issuer   = "pluginforge-core"
	audience = "pluginforge-core-dashboard"
)

var secret = loadSecret()

// loadSecret reads CORE_AUTH_SECRET, falling back to an insecure
// development default. Matches the teacher's fail-loud-but-not-unusable
// posture: startup never aborts, but the default is obviously not for
// production use.
func loadSecret() []byte {
	s := os.Getenv("CORE_AUTH_SECRET")
	if len(s) >= 32 {
		return []byte(s)
	}
	if s != "" {
		fmt.Println("WARNING: CORE_AUTH_SECRET is shorter than 32 bytes; using it anyway for dev")
		return []byte(s)
	}
	fmt.Println("WARNING: CORE_AUTH_SECRET not set; using an insecure development default")
	return []byte("insecure_default_secret_for_dev_mode_only_32bytes")
}

// GenerateToken creates a signed operator token valid for 24 hours.
func GenerateToken(role Role) (string, error) {
	now := time.Now().Unix()
	claims := Claims{
		Role:      role,
		Issuer:    issuer,
		Audience:  audience,
		ExpiresAt: now + 86400,
		IssuedAt:  now,
	}

	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}

	tokenPart := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	signature := computeHMAC(tokenPart)
	return tokenPart + "." + signature, nil
}

// ValidateToken parses and validates a token string, returning its claims.
func ValidateToken(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, errors.New("auth: invalid token format")
	}

	tokenPart := parts[0] + "." + parts[1]
	if computeHMAC(tokenPart) != parts[2] {
		return nil, errors.New("auth: invalid signature")
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode claims: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("auth: failed to unmarshal claims: %w", err)
	}

	now := time.Now().Unix()
	if now > claims.ExpiresAt {
		return nil, errors.New("auth: token expired")
	}
	if claims.Issuer != issuer || claims.Audience != audience {
		return nil, errors.New("auth: invalid issuer or audience")
	}
	return &claims, nil
}

func computeHMAC(message string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64URLEncode(h.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(data string) ([]byte, error) {
	if l := len(data) % 4; l > 0 {
		data += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(data)
}
