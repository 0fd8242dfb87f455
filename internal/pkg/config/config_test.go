package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: db.example.org
  user: slurm
  password: secret
  database: slurm_acct_db
  cluster: hpc1
ldap:
  host: ad.example.org
  bind_dn: cn=reader,dc=example,dc=org
  password: secret
  users_ou: ou=users,dc=example,dc=org
  timeout: 5s
faculties:
  "Dept of Physics": "Science"
`)
	conf, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, conf.MySQL.Host, "db.example.org")
	assert.Equal(t, conf.MySQL.Port, uint16(3306)) // 默认端口
	assert.Equal(t, conf.MySQL.Cluster, "hpc1")
	assert.Equal(t, conf.LDAP.Port, uint16(636))
	assert.Equal(t, conf.LDAP.Attribute, "st")
	assert.Equal(t, conf.LDAP.Timeout, Duration(5*time.Second))
	assert.Equal(t, conf.Faculties["Dept of Physics"], "Science")
	assert.NilError(t, conf.RequireLDAP())
	assert.NilError(t, conf.RequireMySQL())
}

func TestRequireMySQL(t *testing.T) {
	path := writeConfig(t, `
mysql:
  database: slurm_acct_db
  cluster: hpc1
`)
	conf, err := Load(path)
	assert.NilError(t, err)
	assert.Assert(t, conf.RequireMySQL() != nil)
}

func TestRequireLDAP(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: db.example.org
  database: slurm_acct_db
  cluster: hpc1
`)
	conf, err := Load(path)
	assert.NilError(t, err)
	assert.Assert(t, conf.RequireLDAP() != nil)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Assert(t, err != nil)
}
