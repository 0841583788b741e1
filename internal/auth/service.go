package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	// ErrRegistrationClosed 注册已关闭
	ErrRegistrationClosed = fmt.Errorf("registration is closed: %w", domain.ErrForbidden)
)

// ActivityRecorder 记录所有者活动，登录即视为一次活动
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, identity string) error
}

// Service 认证服务
type Service struct {
	users         storage.UserRepository
	jwtManager    *JWTManager
	activity      ActivityRecorder
	blockRegister bool
	now           func() time.Time
	log           *zap.Logger
}

// NewService 创建认证服务
//
// 参数:
//   - users: 用户存储
//   - jwtManager: 令牌管理器
//   - activity: 活动记录器，登录成功后调用，可为 nil
//   - blockRegister: 为 true 时拒绝新用户注册
//   - log: 日志记录器
func NewService(
	users storage.UserRepository,
	jwtManager *JWTManager,
	activity ActivityRecorder,
	blockRegister bool,
	log *zap.Logger,
) *Service {
	return &Service{
		users:         users,
		jwtManager:    jwtManager,
		activity:      activity,
		blockRegister: blockRegister,
		now:           func() time.Time { return time.Now().UTC() },
		log:           log,
	}
}

// Credentials 注册与登录输入
type Credentials struct {
	Identity string `json:"identity" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	User *domain.User `json:"user"`
	*TokenResponse
}

// Register 用户注册
func (s *Service) Register(ctx context.Context, in Credentials) (*AuthResponse, error) {
	if s.blockRegister {
		return nil, ErrRegistrationClosed
	}

	identity := domain.NormalizeIdentity(in.Identity)
	if err := domain.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &domain.User{
		ID:           identity,
		PasswordHash: hash,
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user registered", zap.String("identity", identity))
	return s.issue(user)
}

// Login 用户登录，成功后记录一次所有者活动
func (s *Service) Login(ctx context.Context, in Credentials) (*AuthResponse, error) {
	identity := domain.NormalizeIdentity(in.Identity)

	user, err := s.users.GetUser(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if s.activity != nil {
		if err := s.activity.RecordActivity(ctx, identity); err != nil {
			return nil, err
		}
	}
	return s.issue(user)
}

// Refresh 使用刷新令牌换取新的令牌对
func (s *Service) Refresh(refreshToken string) (*TokenResponse, error) {
	tokens, err := s.jwtManager.RefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return tokens, nil
}

func (s *Service) issue(user *domain.User) (*AuthResponse, error) {
	tokens, err := s.jwtManager.GenerateTokens(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: user, TokenResponse: tokens}, nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
