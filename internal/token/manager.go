package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/credstore"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized 表示凭证无效：过期、伪造或已被旋转/吊销。
// 存储不可用时返回的是包装后的基础设施错误，不会折叠成本错误。
var ErrUnauthorized = errors.New("token: unauthorized")

const refreshKeyPrefix = "refresh:"

type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

// Manager 负责 access/refresh 凭证对的签发、旋转与吊销。
// refresh token 以 access token 字面值为键存入存储，
// 存储 TTL 与 refresh token 自身的过期声明一致。
type Manager struct {
	store      credstore.Store
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(store credstore.Store, secret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{store: store, secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}
}

func (m *Manager) sign(userID uint, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// IssueAccessToken 签发短期 access token，纯签名操作，不触碰存储。
func (m *Manager) IssueAccessToken(userID uint) (string, error) {
	return m.sign(userID, m.accessTTL)
}

// IssueRefreshToken 签发长期 refresh token 并以 access token 为键持久化。
func (m *Manager) IssueRefreshToken(ctx context.Context, userID uint, forAccessToken string) (string, error) {
	rt, err := m.sign(userID, m.refreshTTL)
	if err != nil {
		return "", err
	}
	if err := m.store.Set(ctx, refreshKeyPrefix+forAccessToken, rt, m.refreshTTL); err != nil {
		return "", err
	}
	return rt, nil
}

// Parse 校验签名与过期并返回声明。
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// RefreshResult 旋转后的新凭证对。
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// Refresh 用旧 access token 换取新凭证对。
// 旋转为先删旧记录再写新记录：两步之间崩溃只会丢掉 refresh 能力、
// 迫使重新登录，不会出现两份同时有效的记录。
func (m *Manager) Refresh(ctx context.Context, oldAccessToken string) (*RefreshResult, error) {
	stored, err := m.store.Get(ctx, refreshKeyPrefix+oldAccessToken)
	if errors.Is(err, credstore.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	claims, err := m.Parse(stored)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if err := m.store.Delete(ctx, refreshKeyPrefix+oldAccessToken); err != nil {
		return nil, err
	}
	at, err := m.IssueAccessToken(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("token: issue access: %w", err)
	}
	rt, err := m.IssueRefreshToken(ctx, claims.UserID, at)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: rt}, nil
}

// Revoke 删除 refresh 记录。旧 access token 本身自会过期，
// 这里只是剥夺它继续旋转的能力。
func (m *Manager) Revoke(ctx context.Context, accessToken string) error {
	return m.store.Delete(ctx, refreshKeyPrefix+accessToken)
}

// Exists 检查 refresh 记录是否存在，不消耗记录，预检用。
func (m *Manager) Exists(ctx context.Context, accessToken string) (bool, error) {
	_, err := m.store.Get(ctx, refreshKeyPrefix+accessToken)
	if errors.Is(err, credstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
