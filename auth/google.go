package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/rushteam/oralcare/core"
)

// DefaultUserInfoURL Google 用户信息接口
const DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProfile 是 userinfo 接口返回的字段子集
type GoogleProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GoogleProvider 封装 Google OAuth 授权码流程
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider 创建 Provider，redirectURL 为 {BACKEND_URL}/api/auth/google/callback
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: DefaultUserInfoURL,
	}
}

// WithEndpoints 覆盖授权、令牌与用户信息地址
func (p *GoogleProvider) WithEndpoints(endpoint oauth2.Endpoint, userInfoURL string) *GoogleProvider {
	p.config.Endpoint = endpoint
	p.userInfoURL = userInfoURL
	return p
}

// AuthCodeURL 返回 Google 授权页地址
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange 用授权码换取令牌并读取用户信息
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*GoogleProfile, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google token exchange: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.config.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("google userinfo: status=%d, body=%s", resp.StatusCode, string(body))
	}
	var profile GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("google userinfo decode: %w", err)
	}
	return &profile, nil
}

// LoginWithGoogle 按邮箱查找或创建用户（已验证、无密码），并签发令牌
func (s *Service) LoginWithGoogle(ctx context.Context, profile *GoogleProfile) (string, error) {
	email := normalizeEmail(profile.Email)
	if email == "" {
		return "", invalidInput("Google account has no email")
	}
	u, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case core.IsNotFound(err):
		name := profile.Name
		if name == "" {
			name = strings.SplitN(email, "@", 2)[0]
		}
		u = &core.User{
			Name:          name,
			Email:         email,
			Role:          "user",
			EmailVerified: true,
			GoogleID:      profile.ID,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.users.CreateUser(ctx, u); err != nil {
			return "", err
		}
		s.logger.Info("user registered via google", "user_id", u.ID)
	case err != nil:
		return "", err
	case u.GoogleID == "":
		u.GoogleID = profile.ID
		u.EmailVerified = true
		if err := s.users.UpdateUser(ctx, u); err != nil {
			return "", err
		}
	}
	return s.tokens.Issue(u.ID)
}
