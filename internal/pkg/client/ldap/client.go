// Package ldap 实现目录服务(AD)身份后端: 按用户名查询其组织单元属性.
// 连接为惰性建立, 断线后自动重连一次.
package ldap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	"github.com/nadinespy/hpc-data-analysis/internal/faculty"
)

type Conf struct {
	Host      string
	Port      uint16
	CAFile    string // 可选, 为空时使用系统根证书
	BindDN    string
	Password  string
	UsersOU   string // 搜索基准 DN
	Attribute string // 承载组织单元的属性, 如 "st"
	Timeout   time.Duration
}

type Client struct {
	conf   Conf
	logger *slog.Logger

	mu   sync.Mutex
	conn *goldap.Conn
}

// New 创建客户端, 不建立连接; 首次 Lookup 时才拨号.
func New(conf Conf, logger *slog.Logger) *Client {
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	return &Client{conf: conf, logger: logger}
}

// Lookup 实现 faculty.Backend: 返回用户的组织单元属性值.
// 目录中无此用户返回 faculty.ErrNotFound; 拨号/绑定失败及网络错误
// 归为 faculty.ErrBackendUnavailable.
func (c *Client) Lookup(ctx context.Context, username string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connect(); err != nil {
			return "", err
		}
	}

	req := goldap.NewSearchRequest(
		c.conf.UsersOU,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(&(objectClass=user)(sAMAccountName=%s))", goldap.EscapeFilter(username)),
		[]string{c.conf.Attribute},
		nil,
	)

	res, err := c.conn.Search(req)
	if err != nil && goldap.IsErrorWithCode(err, goldap.ErrorNetwork) {
		// 连接中断, 重连一次后重试
		c.logger.Warn("directory connection lost, reconnecting", slog.Any("err", err))
		c.conn.Close()
		c.conn = nil
		if err = c.connect(); err != nil {
			return "", err
		}
		res, err = c.conn.Search(req)
	}
	if err != nil {
		return "", fmt.Errorf("search %s: %v: %w", username, err, faculty.ErrBackendUnavailable)
	}

	if len(res.Entries) == 0 {
		return "", faculty.ErrNotFound
	}
	return res.Entries[0].GetAttributeValue(c.conf.Attribute), nil
}

// connect 拨号并绑定. 调用方必须持有 c.mu.
func (c *Client) connect() error {
	tlsConf := &tls.Config{ServerName: c.conf.Host}
	if c.conf.CAFile != "" {
		pem, err := os.ReadFile(c.conf.CAFile)
		if err != nil {
			return fmt.Errorf("read CA file %s: %v: %w", c.conf.CAFile, err, faculty.ErrBackendUnavailable)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("CA file %s has no usable certificates: %w", c.conf.CAFile, faculty.ErrBackendUnavailable)
		}
		tlsConf.RootCAs = pool
	}

	url := fmt.Sprintf("ldaps://%s:%d", c.conf.Host, c.conf.Port)
	conn, err := goldap.DialURL(url,
		goldap.DialWithTLSConfig(tlsConf),
		goldap.DialWithDialer(&net.Dialer{Timeout: c.conf.Timeout}))
	if err != nil {
		return fmt.Errorf("dial %s: %v: %w", url, err, faculty.ErrBackendUnavailable)
	}
	conn.SetTimeout(c.conf.Timeout)

	if err := conn.Bind(c.conf.BindDN, c.conf.Password); err != nil {
		conn.Close()
		return fmt.Errorf("bind as %s: %v: %w", c.conf.BindDN, err, faculty.ErrBackendUnavailable)
	}
	c.conn = conn
	c.logger.Debug("directory connected", slog.String("url", url))
	return nil
}

// Close 关闭连接(若已建立).
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
