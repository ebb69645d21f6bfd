// Package session 维护认证令牌与当前账号，并通过 API 客户端的发送前钩子注入认证头。
// 令牌只在本地解析过期时间，不做签名验证；签名由服务端校验。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/location"
)

// 认证头
const (
	HeaderAIMSToken     = "X-AIMS-Auth-Token"
	HeaderAuthorization = "Authorization"
)

var (
	// ErrNoToken 表示会话中没有令牌
	ErrNoToken = errors.New("session has no token")
	// ErrInvalidToken 表示令牌无法解析
	ErrInvalidToken = errors.New("invalid token")
)

// Claims 令牌中与会话相关的声明。
type Claims struct {
	// AccountID 签发令牌的主账号
	AccountID string `json:"account,omitempty"`
	jwt.RegisteredClaims
}

// Account AIMS 账号元数据中会话层关心的字段。
type Account struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	DefaultLocation     string   `json:"default_location"`
	AccessibleLocations []string `json:"accessible_locations"`
}

// Session 认证会话，并发安全。
type Session struct {
	client *apiclient.Client
	logger *logrus.Logger

	mu      sync.RWMutex
	token   string
	account *Account
}

// New 创建会话并把认证钩子注册到 client。
func New(client *apiclient.Client, token string) *Session {
	s := &Session{
		client: client,
		logger: client.Logger(),
		token:  token,
	}
	client.OnBeforeRequest(s.Hook())
	return s
}

// SetToken 替换令牌。
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token 返回当前令牌。
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Claims 解析令牌声明，不验证签名。
func (s *Session) Claims() (*Claims, error) {
	token := s.Token()
	if token == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Expired 报告令牌在 now 时刻是否已过期。没有 exp 声明的令牌视为未过期，
// 没有令牌或令牌无法解析时视为已过期。
func (s *Session) Expired(now time.Time) bool {
	claims, err := s.Claims()
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

// Hook 返回注入认证头的发送前钩子。调用方已设置的认证头不会被覆盖。
func (s *Session) Hook() apiclient.BeforeRequestHook {
	return func(_ context.Context, hr *http.Request, req *apiclient.Request) error {
		token := s.Token()
		if token == "" || req.Auth == apiclient.AuthNone {
			return nil
		}
		switch req.Auth {
		case apiclient.AuthBearer:
			if hr.Header.Get(HeaderAuthorization) == "" {
				hr.Header.Set(HeaderAuthorization, "Bearer "+token)
			}
		default:
			if hr.Header.Get(HeaderAIMSToken) == "" {
				hr.Header.Set(HeaderAIMSToken, token)
			}
		}
		return nil
	}
}

// Account 返回最近一次解析到的账号元数据，未解析时返回 nil。
func (s *Session) Account() *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

// SetActingAccount 切换当前账号。
// 运行时开关 ResolveAccountMetadata 打开时会拉取账号元数据，并把账号的默认位置和
// 可访问位置应用到位置矩阵（位置的驻留区域覆盖显式指定的区域）。
func (s *Session) SetActingAccount(ctx context.Context, accountID string) (*Account, error) {
	s.client.SetContextAccount(accountID)

	if !s.client.Runtime().ResolveAccountMetadata() {
		acct := &Account{ID: accountID}
		s.mu.Lock()
		s.account = acct
		s.mu.Unlock()
		return acct, nil
	}

	var acct Account
	err := s.client.Fetch(ctx, &apiclient.Request{
		Method: http.MethodGet,
		Service: &apiclient.ServiceTarget{
			Stack:     location.InsightAPI,
			Name:      "aims",
			Version:   apiclient.VersionNumber(1),
			AccountID: accountID,
			Path:      "account",
		},
		TTL: apiclient.DefaultTTL,
	}, &acct)
	if err != nil {
		return nil, fmt.Errorf("resolve account %s: %w", accountID, err)
	}

	if acct.DefaultLocation != "" || acct.AccessibleLocations != nil {
		s.client.Matrix().SetContext(location.Context{
			InsightLocationID: acct.DefaultLocation,
			Accessible:        acct.AccessibleLocations,
		})
	}

	s.mu.Lock()
	s.account = &acct
	s.mu.Unlock()

	acting := s.client.Matrix().Context()
	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"account_id":       accountID,
		"insight_location": acting.InsightLocationID,
		"residency":        acting.Residency,
	}).Info("Acting account changed")
	return &acct, nil
}
