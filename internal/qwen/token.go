package qwen

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TokenExpiry extracts the expiry timestamp from a bearer token. The token is
// a JWT; only the unverified exp claim of the payload segment is read, which
// is enough to schedule renewal ahead of time.
func TokenExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("qwen: token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("qwen: decode token payload: %w", err)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err = json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, fmt.Errorf("qwen: parse token claims: %w", err)
	}
	if claims.Exp <= 0 {
		return time.Time{}, fmt.Errorf("qwen: token carries no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}
