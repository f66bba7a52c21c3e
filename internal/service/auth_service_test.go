package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/loci-palace/internal/config"
	"github.com/wfunc/loci-palace/internal/utils"
	"go.uber.org/zap"
)

// AuthServiceTestSuite 认证服务测试套件
type AuthServiceTestSuite struct {
	suite.Suite
	authService AuthService
	jwtManager  *utils.JWTManager
}

// SetupTest 每个测试前执行
func (suite *AuthServiceTestSuite) SetupTest() {
	hash, err := utils.HashPassword("correct-password")
	suite.Require().NoError(err)

	suite.jwtManager = utils.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
	suite.authService = NewAuthService(config.OperatorConfig{
		Username:     "operator",
		PasswordHash: hash,
	}, suite.jwtManager, zap.NewNop())
}

// 测试登录成功
func (suite *AuthServiceTestSuite) TestLoginSuccess() {
	resp, err := suite.authService.Login(context.Background(), "operator", "correct-password")
	suite.NoError(err)
	suite.NotEmpty(resp.AccessToken)
	suite.NotEmpty(resp.RefreshToken)
	suite.Equal("operator", resp.Username)
	suite.Equal(OperatorRole, resp.Role)
	suite.True(resp.ExpiresAt.After(time.Now()))
}

// 测试错误密码
func (suite *AuthServiceTestSuite) TestLoginWrongPassword() {
	resp, err := suite.authService.Login(context.Background(), "operator", "wrong-password")
	suite.ErrorIs(err, ErrInvalidCredentials)
	suite.Nil(resp)
}

// 测试未知用户名
func (suite *AuthServiceTestSuite) TestLoginUnknownUser() {
	resp, err := suite.authService.Login(context.Background(), "intruder", "correct-password")
	suite.ErrorIs(err, ErrInvalidCredentials)
	suite.Nil(resp)
}

// 测试令牌验证
func (suite *AuthServiceTestSuite) TestValidateToken() {
	resp, err := suite.authService.Login(context.Background(), "operator", "correct-password")
	suite.Require().NoError(err)

	claims, err := suite.authService.ValidateToken(context.Background(), resp.AccessToken)
	suite.NoError(err)
	suite.Equal("operator", claims.Username)
	suite.Equal(OperatorRole, claims.Role)

	// 刷新令牌不能当访问令牌用
	_, err = suite.authService.ValidateToken(context.Background(), resp.RefreshToken)
	suite.ErrorIs(err, ErrInvalidToken)

	// 乱串被拒绝
	_, err = suite.authService.ValidateToken(context.Background(), "garbage.token.here")
	suite.ErrorIs(err, ErrInvalidToken)
}

// 测试令牌刷新
func (suite *AuthServiceTestSuite) TestRefreshToken() {
	resp, err := suite.authService.Login(context.Background(), "operator", "correct-password")
	suite.Require().NoError(err)

	refreshed, err := suite.authService.RefreshToken(context.Background(), resp.RefreshToken)
	suite.NoError(err)
	suite.NotEmpty(refreshed.AccessToken)

	claims, err := suite.authService.ValidateToken(context.Background(), refreshed.AccessToken)
	suite.NoError(err)
	suite.Equal("operator", claims.UserID)

	// 访问令牌不能用于刷新
	_, err = suite.authService.RefreshToken(context.Background(), resp.AccessToken)
	suite.ErrorIs(err, ErrInvalidToken)
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceTestSuite))
}
