package credstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound 表示键不存在或已过期。调用方用 errors.Is 与其它
// 基础设施错误区分：凭证无效和存储不可用绝不能混为一谈。
var ErrNotFound = errors.New("credstore: key not found")

// Store 是带按键 TTL 的外部键值存储边界。
// 单键操作原子；跨键序列（如 token 旋转的删旧写新）不保证事务性。
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set 写入键值，ttl <= 0 时不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete 删除键，键不存在时为 no-op。
	Delete(ctx context.Context, key string) error
	// Incr 原子自增并返回新值，仅在键首次创建时设置 ttl。
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}

// Badger 是基于 BadgerDB 的 Store 实现，利用其条目级 TTL 和单键事务。
type Badger struct {
	db *badger.DB
}

// Open 打开指定目录下的存储。
func Open(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("credstore: open: %w", err)
	}
	return &Badger{db: db}, nil
}

// OpenInMemory 打开纯内存存储，测试用。
func OpenInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("credstore: open in-memory: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credstore: get %s: %w", key, err)
	}
	return val, nil
}

func (b *Badger) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("credstore: set %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("credstore: delete %s: %w", key, err)
	}
	return nil
}

// 并发自增同一键时 Badger 的乐观事务会以 ErrConflict 中止，
// 有限次重试后仍冲突才作为基础设施错误上抛。
const incrMaxRetries = 50

func (b *Badger) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var next int64
	var err error
	for attempt := 0; attempt < incrMaxRetries; attempt++ {
		err = b.incrOnce(key, ttl, &next)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return 0, fmt.Errorf("credstore: incr %s: %w", key, err)
	}
	return next, nil
}

func (b *Badger) incrOnce(key string, ttl time.Duration, next *int64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var cur int64
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// 首次创建，从 0 起
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				cur, err = strconv.ParseInt(string(v), 10, 64)
				return err
			}); err != nil {
				return err
			}
			// 续用剩余 TTL，窗口不因自增而延长
			if item.ExpiresAt() > 0 {
				ttl = time.Until(time.Unix(int64(item.ExpiresAt()), 0))
				if ttl <= 0 {
					// 秒级精度下已贴着窗口边缘，按最小时长处理
					ttl = time.Second
				}
			} else {
				ttl = 0
			}
		}
		*next = cur + 1
		e := badger.NewEntry([]byte(key), []byte(strconv.FormatInt(*next, 10)))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Close() error {
	return b.db.Close()
}
