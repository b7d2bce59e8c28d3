package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/UlleongUlleong/server-sub000/internal/credstore"
)

var (
	// ErrTooManyAttempts 表示该邮箱在窗口期内的校验次数已达上限。
	ErrTooManyAttempts = errors.New("verify: too many attempts")
	// ErrCodeMismatch 表示验证码不存在、已过期或不匹配。
	ErrCodeMismatch = errors.New("verify: code mismatch")
)

const (
	attemptKeyPrefix = "verify:attempt:"
	codeKeyPrefix    = "verify:code:"
)

// Limiter 基于存储的原子自增实现按邮箱的尝试计数，
// 计数键带固定窗口 TTL，窗口不随尝试刷新。
type Limiter struct {
	store  credstore.Store
	max    int64
	window time.Duration
}

func NewLimiter(store credstore.Store, max int, window time.Duration) *Limiter {
	return &Limiter{store: store, max: int64(max), window: window}
}

// Bump 记一次尝试。超过上限时返回 ErrTooManyAttempts，
// 此时无论提交的验证码是什么都应拒绝。
func (l *Limiter) Bump(ctx context.Context, email string) error {
	n, err := l.store.Incr(ctx, attemptKeyPrefix+email, l.window)
	if err != nil {
		return err
	}
	if n > l.max {
		return ErrTooManyAttempts
	}
	return nil
}

// Codes 管理邮箱验证码的签发与校验，邮件投递由外部协作方负责。
type Codes struct {
	store   credstore.Store
	limiter *Limiter
	ttl     time.Duration
}

func NewCodes(store credstore.Store, limiter *Limiter, ttl time.Duration) *Codes {
	return &Codes{store: store, limiter: limiter, ttl: ttl}
}

// Issue 生成 6 位验证码并以 TTL 存储，返回验证码交给投递方。
func (c *Codes) Issue(ctx context.Context, email string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("verify: generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())
	if err := c.store.Set(ctx, codeKeyPrefix+email, code, c.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Confirm 先计数后比对：即便验证码正确，超限也一样拒绝。
// 成功后验证码即被消耗。
func (c *Codes) Confirm(ctx context.Context, email, code string) error {
	if err := c.limiter.Bump(ctx, email); err != nil {
		return err
	}
	stored, err := c.store.Get(ctx, codeKeyPrefix+email)
	if errors.Is(err, credstore.ErrNotFound) {
		return ErrCodeMismatch
	}
	if err != nil {
		return err
	}
	if stored != code {
		return ErrCodeMismatch
	}
	return c.store.Delete(ctx, codeKeyPrefix+email)
}
