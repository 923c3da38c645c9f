// Package auth 负责令牌签发与校验、邮箱密码登录、Google OAuth 登录与资料更新。
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rushteam/oralcare/core"
)

// DefaultTokenTTL 令牌有效期
const DefaultTokenTTL = 24 * time.Hour

// HS256 要求至少 32 字节的密钥
const minKeyLen = 32

var (
	ErrTokenMissing = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "Token missing")
	ErrTokenExpired = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "Token expired")
	ErrTokenInvalid = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "Invalid token")
)

// Claims 令牌载荷，user_id 为用户 ID
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenManager 使用 HS256 签发与校验令牌
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenManager 创建 TokenManager，secret 不足 32 字节时以 NUL 补齐
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	key := []byte(secret)
	if len(key) < minKeyLen {
		key = append(key, make([]byte, minKeyLen-len(key))...)
	}
	return &TokenManager{key: key, ttl: ttl, now: time.Now}
}

// Issue 为用户签发令牌
func (m *TokenManager) Issue(userID string) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse 校验令牌并返回 user_id
func (m *TokenManager) Parse(token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case err != nil:
		return "", core.WrapDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "Invalid token", err)
	case claims.UserID == "":
		return "", ErrTokenInvalid
	}
	return claims.UserID, nil
}

// Identify 解析 Authorization 头并返回 user_id，不检查用户是否存在
func (m *TokenManager) Identify(header string) (string, error) {
	return m.Parse(ExtractToken(header))
}

// ExtractToken 从 Authorization 头中取出令牌，支持 "Bearer <token>" 与裸令牌
func ExtractToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return strings.TrimSpace(header)
}
