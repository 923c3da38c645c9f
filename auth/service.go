package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/rushteam/oralcare/core"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var (
	ErrInvalidCredentials = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "Invalid credentials")
	ErrGoogleOnly         = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized,
		"This account was created using Google Login. Please click 'Continue with Google' to sign in.")
	ErrUserExists   = core.NewDomainError(core.ModuleAuth, core.ErrorCodeConflict, "User already exists")
	ErrEmailInUse   = core.NewDomainError(core.ModuleAuth, core.ErrorCodeConflict, "Email already in use")
	ErrUserNotFound = core.NewDomainError(core.ModuleAuth, core.ErrorCodeUnauthorized, "User not found")
)

func invalidInput(msg string) error {
	return core.NewDomainError(core.ModuleAuth, core.ErrorCodeInvalidInput, msg)
}

// Service 实现注册、登录、身份校验与资料更新
type Service struct {
	users  core.UserStore
	tokens *TokenManager
	cost   int
	logger *slog.Logger
	now    func() time.Time
}

// Option 配置 Service
type Option func(*Service)

// WithBcryptCost 设置 bcrypt 代价，测试中可用 bcrypt.MinCost 加速
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(users core.UserStore, tokens *TokenManager, opts ...Option) *Service {
	s := &Service{
		users:  users,
		tokens: tokens,
		cost:   bcrypt.DefaultCost,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens 返回令牌管理器
func (s *Service) Tokens() *TokenManager { return s.tokens }

// ValidEmail 校验邮箱格式
func ValidEmail(email string) bool { return emailPattern.MatchString(email) }

// StrongPassword 至少 8 位，且同时包含字母与数字
func StrongPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterInput 注册参数
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register 创建邮箱密码账号
func (s *Service) Register(ctx context.Context, in RegisterInput) (*core.User, error) {
	name, email := strings.TrimSpace(in.Name), normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, invalidInput("Name, email, and password are required")
	}
	if !ValidEmail(email) {
		return nil, invalidInput("Invalid email format")
	}
	if !StrongPassword(in.Password) {
		return nil, invalidInput("Password must be at least 8 characters and contain both letters and numbers")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &core.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "user",
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if core.IsConflict(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login 校验邮箱密码并签发令牌
func (s *Service) Login(ctx context.Context, email, password string) (string, *core.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return "", nil, invalidInput("Email and password are required")
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if u.PasswordHash == "" {
		return "", nil, ErrGoogleOnly
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error("password hash check failed", "user_id", u.ID, "error", err)
		}
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Authenticate 校验 Authorization 头并加载用户，用于需要登录的接口
func (s *Service) Authenticate(ctx context.Context, header string) (*core.User, error) {
	userID, err := s.tokens.Parse(ExtractToken(header))
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// ProfileUpdate 资料更新，nil 字段不修改
type ProfileUpdate struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// UpdateProfile 更新姓名与邮箱；邮箱变更后重置验证状态
func (s *Service) UpdateProfile(ctx context.Context, u *core.User, in ProfileUpdate) (*core.User, error) {
	updated := *u
	changed := false
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
		changed = true
	}
	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		if email != "" && email != normalizeEmail(u.Email) {
			if !ValidEmail(email) {
				return nil, invalidInput("Invalid email format")
			}
			updated.Email = email
			updated.EmailVerified = false
			changed = true
		}
	}
	if !changed {
		return nil, invalidInput("No valid fields to update")
	}
	if err := s.users.UpdateUser(ctx, &updated); err != nil {
		if core.IsConflict(err) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return &updated, nil
}
