package service

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/loci-palace/internal/config"
	"github.com/wfunc/loci-palace/internal/utils"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidToken       = errors.New("无效的令牌")
)

// OperatorRole 运维角色
const OperatorRole = "operator"

// AuthService 认证服务接口
type AuthService interface {
	// Login 运维账号登录
	Login(ctx context.Context, username, password string) (*AuthResponse, error)
	// ValidateToken 验证访问令牌
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	// RefreshToken 刷新访问令牌
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
}

// AuthResponse 认证响应
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
}

// authService 认证服务实现
//
// 单运维账号，凭据散列存在配置里，不建用户表。
type authService struct {
	operator   config.OperatorConfig
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(operator config.OperatorConfig, jwtManager *utils.JWTManager, log *zap.Logger) AuthService {
	return &authService{
		operator:   operator,
		jwtManager: jwtManager,
		log:        log,
	}
}

// Login 运维账号登录
func (s *authService) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	if username != s.operator.Username {
		s.log.Warn("登录失败：用户名不存在", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	ok, err := utils.VerifyPassword(password, s.operator.PasswordHash)
	if err != nil || !ok {
		s.log.Warn("登录失败：密码错误", zap.String("username", username))
		return nil, ErrInvalidCredentials
	}

	sessionID, err := utils.GenerateSessionID()
	if err != nil {
		return nil, err
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(username, username, OperatorRole, sessionID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(username, sessionID)
	if err != nil {
		return nil, err
	}

	s.log.Info("运维账号登录成功", zap.String("username", username))

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(s.jwtManager.GetTokenExpiry("access")),
		Username:     username,
		Role:         OperatorRole,
	}, nil
}

// ValidateToken 验证访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "access" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshToken 刷新访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil || claims.TokenType != "refresh" {
		return nil, ErrInvalidToken
	}

	accessToken, err := s.jwtManager.RefreshAccessToken(refreshToken, claims.UserID, OperatorRole)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		AccessToken: accessToken,
		ExpiresAt:   time.Now().Add(s.jwtManager.GetTokenExpiry("access")),
		Username:    claims.UserID,
		Role:        OperatorRole,
	}, nil
}
