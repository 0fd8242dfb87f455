package faculty

import (
	"sync"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
)

// Cache 为用户名到院系标签的进程级缓存, 生命周期为一次运行,
// 运行内不淘汰. 读多写少, 可在多个工作协程间共享.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: map[string]string{}}
}

func (c *Cache) Get(username string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fac, ok := c.entries[username]
	return fac, ok
}

func (c *Cache) Put(username, faculty string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[username] = faculty
}

// Len 返回缓存的用户数, 供运行结束时的诊断输出.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// UnknownCount 返回被归入 Unknown 的用户数.
func (c *Cache) UnknownCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, fac := range c.entries {
		if fac == aggregate.UnknownLabel {
			n++
		}
	}
	return n
}
