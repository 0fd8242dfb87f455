package slurmdb

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"golang.org/x/sync/singleflight"
)

// poolKey 唯一标识一个集群的记账数据库.
type poolKey struct {
	ClusterName string         // 对应 slurm.conf ClusterName
	Address     netip.AddrPort // 记账数据库地址
}

// String 输出格式为 <ClusterName>:IP:Port
func (pk poolKey) String() string {
	return fmt.Sprintf("%s:%s", pk.ClusterName, pk.Address)
}

func newPoolKey(cluster, host string, port uint16) (string, error) {
	if cluster == "" {
		return "", fmt.Errorf("参数 cluster 不能为空")
	}
	if host == "" {
		return "", fmt.Errorf("参数 host 不能为空")
	}
	hostport := fmt.Sprintf("%s:%d", host, port)
	if addr, err := netip.ParseAddrPort(hostport); err == nil {
		return poolKey{ClusterName: cluster, Address: addr}.String(), nil
	}
	// host 为主机名而非 IP 字面量, 直接以主机名入键
	return fmt.Sprintf("%s:%s", cluster, hostport), nil
}

// Pool 按集群复用记账数据库连接. 多集群报表在同一进程内依次或并行
// 统计时, 同一集群只建立一个 Client.
type Pool struct {
	mu     sync.RWMutex
	g      singleflight.Group
	pool   map[string]*Client
	logger *slog.Logger
}

func NewPool(logger *slog.Logger) *Pool {
	return &Pool{pool: make(map[string]*Client), logger: logger}
}

// FetchOrCreate 根据 conf 生成的 key 获取池中的 Client; 不存在则创建.
// 并发安全: 读写锁保护内部 map, singleflight 保证同一 key 只创建一次.
func (p *Pool) FetchOrCreate(ctx context.Context, conf Conf) (*Client, error) {
	key, err := newPoolKey(conf.Cluster, conf.Host, conf.Port)
	if err != nil {
		return nil, err
	}

	// 快路径: 已存在则直接返回
	p.mu.RLock()
	if c, ok := p.pool[key]; ok && c != nil {
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()

	v, err, _ := p.g.Do(key, func() (any, error) {
		// 双检, 避免等待期间已被其他协程创建
		p.mu.RLock()
		if c, ok := p.pool[key]; ok && c != nil {
			p.mu.RUnlock()
			return c, nil
		}
		p.mu.RUnlock()

		newClient, err := New(ctx, conf, p.logger)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.pool[key] = newClient
		p.mu.Unlock()
		return newClient, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// Close 关闭池中所有连接.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, c := range p.pool {
		if err := c.Close(); err != nil {
			p.logger.Warn("failed to close accounting database",
				slog.String("key", key), slog.Any("err", err))
		}
		delete(p.pool, key)
	}
}
