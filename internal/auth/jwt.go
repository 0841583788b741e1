package auth

import (
	"deadswitch/backend/internal/auth/jwt"
	"deadswitch/backend/internal/config"
)

// JWTManager JWT管理器包装
type JWTManager struct {
	manager *jwt.Manager
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	return &JWTManager{
		manager: jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry),
	}
}

// Manager 返回底层管理器，供中间件与 WebSocket 验证令牌
func (j *JWTManager) Manager() *jwt.Manager {
	return j.manager
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newTokenResponse(pair *jwt.TokenPair) *TokenResponse {
	return &TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}
}

// GenerateTokens 生成令牌对
func (j *JWTManager) GenerateTokens(identity string) (*TokenResponse, error) {
	pair, err := j.manager.GenerateTokenPair(identity)
	if err != nil {
		return nil, err
	}
	return newTokenResponse(pair), nil
}

// ValidateToken 验证访问令牌并返回身份
func (j *JWTManager) ValidateToken(tokenString string) (string, error) {
	claims, err := j.manager.ValidateAccessToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Identity, nil
}

// RefreshToken 刷新令牌
func (j *JWTManager) RefreshToken(refreshToken string) (*TokenResponse, error) {
	pair, err := j.manager.RefreshAccessToken(refreshToken)
	if err != nil {
		return nil, err
	}
	return newTokenResponse(pair), nil
}
