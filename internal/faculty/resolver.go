// Package faculty 将作业用户名解析为院系标签, 带进程级缓存与
// Unknown 兜底策略.
package faculty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
)

// ErrNotFound 表示目录中不存在该用户(按用户恢复, 归入 Unknown).
var ErrNotFound = errors.New("user not found in directory")

// ErrBackendUnavailable 表示目录后端整体不可用(连接失败或超时).
// 与单个用户查不到不同, 此错误对整个运行致命: 继续跑出来的院系归属
// 会系统性地错, 而不只是不完整.
var ErrBackendUnavailable = errors.New("identity backend unavailable")

// Backend 为目录查询后端. Lookup 返回用户的组织单元字符串;
// 查不到该用户返回 ErrNotFound, 后端不可用返回 ErrBackendUnavailable.
type Backend interface {
	Lookup(ctx context.Context, username string) (string, error)
}

// Resolver resolves usernames to faculty labels. Lookups hit the backend at
// most once per user per run: both successful mappings and per-user misses
// are cached for the lifetime of the resolver, so an unmappable user never
// causes retry storms against the directory.
type Resolver struct {
	backend   Backend
	cache     *Cache
	normalize map[string]string // 组织单元 → 院系标签, 注入的配置数据
	timeout   time.Duration
	logger    *slog.Logger

	sf singleflight.Group
}

// NewResolver 创建解析器. normalize 为空时组织单元原样作为院系标签;
// 非空时未命中映射表的组织单元归入 Unknown. timeout 约束单次后端查询.
func NewResolver(backend Backend, cache *Cache, normalize map[string]string, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		backend:   backend,
		cache:     cache,
		normalize: normalize,
		timeout:   timeout,
		logger:    logger,
	}
}

// Resolve 返回用户所属院系. 缓存命中直接返回; 未命中时查询后端并缓存
// 结果, 对本次运行是永久决定. 仅当后端不可用时返回错误.
func (r *Resolver) Resolve(ctx context.Context, username string) (string, error) {
	if fac, ok := r.cache.Get(username); ok {
		return fac, nil
	}

	// singleflight: 并行工作协程对同一用户的并发未命中只查询一次
	v, err, _ := r.sf.Do(username, func() (any, error) {
		if fac, ok := r.cache.Get(username); ok {
			return fac, nil
		}
		fac, err := r.lookup(ctx, username)
		if err != nil {
			return "", err
		}
		r.cache.Put(username, fac)
		return fac, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) lookup(ctx context.Context, username string) (string, error) {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	unit, err := r.backend.Lookup(lctx, username)
	switch {
	case err == nil:
		return r.mapUnit(username, unit), nil
	case errors.Is(err, ErrNotFound):
		r.logger.Debug("user not found in directory", slog.String("user", username))
		return aggregate.UnknownLabel, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(lctx.Err(), context.DeadlineExceeded):
		// 超时按后端不可用处理, 不作为单用户未命中
		return "", fmt.Errorf("lookup %s timed out: %w", username, ErrBackendUnavailable)
	case errors.Is(err, ErrBackendUnavailable):
		return "", fmt.Errorf("lookup %s: %w", username, err)
	default:
		return "", fmt.Errorf("lookup %s: %v: %w", username, err, ErrBackendUnavailable)
	}
}

// mapUnit 把目录返回的组织单元归一到固定的院系标签集合.
func (r *Resolver) mapUnit(username, unit string) string {
	if unit == "" {
		return aggregate.UnknownLabel
	}
	if len(r.normalize) == 0 {
		return unit
	}
	if label, ok := r.normalize[unit]; ok {
		return label
	}
	r.logger.Debug("organizational unit not in normalization table",
		slog.String("user", username), slog.String("unit", unit))
	return aggregate.UnknownLabel
}
