package registry

import (
	"context"
	"errors"
	"strconv"

	"github.com/UlleongUlleong/server-sub000/internal/credstore"
)

// ErrNotAuthenticated 表示连接没有对应的用户映射：
// 握手未完成，或连接已被解绑。
var ErrNotAuthenticated = errors.New("registry: connection not authenticated")

const keyPrefix = "conn:"

// Registry 维护连接标识到用户标识的映射。
// 映射不设 TTL，生命周期由网关的断连钩子兜底；
// 不做进程内缓存，每次 Resolve 都是一次存储往返。
type Registry struct {
	store credstore.Store
}

func New(store credstore.Store) *Registry {
	return &Registry{store: store}
}

// Bind 记录映射，重复绑定同一连接时静默覆盖。
func (r *Registry) Bind(ctx context.Context, connID string, userID uint) error {
	return r.store.Set(ctx, keyPrefix+connID, strconv.FormatUint(uint64(userID), 10), 0)
}

// Resolve 返回连接对应的用户标识。
func (r *Registry) Resolve(ctx context.Context, connID string) (uint, error) {
	val, err := r.store.Get(ctx, keyPrefix+connID)
	if errors.Is(err, credstore.ErrNotFound) {
		return 0, ErrNotAuthenticated
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, ErrNotAuthenticated
	}
	return uint(id), nil
}

// Unbind 删除映射，映射不存在时也算成功，支持断连路径的幂等清理。
func (r *Registry) Unbind(ctx context.Context, connID string) error {
	return r.store.Delete(ctx, keyPrefix+connID)
}
