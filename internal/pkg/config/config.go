// Package config 加载运行配置: 记账数据库连接参数, 目录服务(AD/LDAP)
// 连接参数, 以及组织单元到院系标签的归一化表.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MySQL     MySQL             `yaml:"mysql"`
	LDAP      LDAP              `yaml:"ldap"`
	Faculties map[string]string `yaml:"faculties"` // 组织单元 → 院系标签, 可为空
}

type MySQL struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Cluster  string `yaml:"cluster"` // slurmdbd 表前缀, 即 slurm.conf 的 ClusterName
}

type LDAP struct {
	Host      string   `yaml:"host"`
	Port      uint16   `yaml:"port"`
	CAFile    string   `yaml:"ca_file"`
	BindDN    string   `yaml:"bind_dn"`
	Password  string   `yaml:"password"`
	UsersOU   string   `yaml:"users_ou"`
	Attribute string   `yaml:"attribute"` // 承载院系信息的属性, 如 "st"
	Timeout   Duration `yaml:"timeout"`
}

// Duration 让 YAML 字段接受 "5s"/"1m" 形式的时长.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("无法解析时长 %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load 读取并校验 YAML 配置文件.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取配置文件 %s: %w", path, err)
	}
	conf := &Config{}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("无法解析配置文件 %s: %w", path, err)
	}
	conf.applyDefaults()
	return conf, nil
}

func (c *Config) applyDefaults() {
	if c.MySQL.Port == 0 {
		c.MySQL.Port = 3306
	}
	if c.LDAP.Port == 0 {
		c.LDAP.Port = 636
	}
	if c.LDAP.Attribute == "" {
		c.LDAP.Attribute = "st"
	}
	if c.LDAP.Timeout == 0 {
		c.LDAP.Timeout = Duration(10 * time.Second)
	}
}

// RequireMySQL 校验记账数据库配置, 仅在直连数据库时调用.
func (c *Config) RequireMySQL() error {
	if c.MySQL.Host == "" {
		return fmt.Errorf("mysql.host 不能为空")
	}
	if c.MySQL.Database == "" {
		return fmt.Errorf("mysql.database 不能为空")
	}
	if c.MySQL.Cluster == "" {
		return fmt.Errorf("mysql.cluster 不能为空")
	}
	return nil
}

// RequireLDAP 校验目录服务配置, 仅在启用院系归属时调用.
func (c *Config) RequireLDAP() error {
	if c.LDAP.Host == "" {
		return fmt.Errorf("ldap.host 不能为空")
	}
	if c.LDAP.UsersOU == "" {
		return fmt.Errorf("ldap.users_ou 不能为空")
	}
	return nil
}
