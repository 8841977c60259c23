// internal/common/utils/jwt.go
// JWT token generation and validation. Tokens are issued by the account
// service; this process only verifies them.

package utils

import (
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v4"
    "github.com/google/uuid"
)

const TokenTypeAccess = "access"

var (
    ErrInvalidToken     = errors.New("invalid token")
    ErrInvalidTokenType = errors.New("invalid token type")
)

// JWTClaims are the claims carried by access tokens
type JWTClaims struct {
    UserID   string `json:"user_id"`
    Username string `json:"username,omitempty"`
    Type     string `json:"type"` // "access" or "refresh"
    jwt.RegisteredClaims
}

// GenerateJWT signs claims with HS256. Used by tests and local tooling.
func GenerateJWT(claims *JWTClaims, secret string) (string, error) {
    token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

    tokenString, err := token.SignedString([]byte(secret))
    if err != nil {
        return "", fmt.Errorf("failed to sign token: %w", err)
    }
    return tokenString, nil
}

// NewAccessClaims builds access claims for userID valid for ttl
func NewAccessClaims(userID string, ttl time.Duration) *JWTClaims {
    now := time.Now()
    return &JWTClaims{
        UserID: userID,
        Type:   TokenTypeAccess,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   userID,
            IssuedAt:  jwt.NewNumericDate(now),
            NotBefore: jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
        },
    }
}

// ValidateJWT validates a JWT access token and returns its claims
func ValidateJWT(tokenString string, secret string) (*JWTClaims, error) {
    claims := &JWTClaims{}
    token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
        // Verify signing method
        if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
        }
        return []byte(secret), nil
    })
    if err != nil {
        return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
    }
    if !token.Valid {
        return nil, ErrInvalidToken
    }

    if claims.Type != TokenTypeAccess {
        return nil, ErrInvalidTokenType
    }
    if _, err := uuid.Parse(claims.UserID); err != nil {
        return nil, fmt.Errorf("%w: user_id is not a valid id", ErrInvalidToken)
    }

    return claims, nil
}
