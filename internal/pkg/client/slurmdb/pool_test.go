package slurmdb

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestNewPoolKey(t *testing.T) {
	key, err := newPoolKey("hpc1", "192.168.1.10", 3306)
	assert.NilError(t, err)
	assert.Equal(t, key, "hpc1:192.168.1.10:3306")

	// 主机名同样可用作键
	key, err = newPoolKey("hpc1", "db.example.org", 3306)
	assert.NilError(t, err)
	assert.Equal(t, key, "hpc1:db.example.org:3306")

	_, err = newPoolKey("", "192.168.1.10", 3306)
	assert.Assert(t, err != nil)

	_, err = newPoolKey("hpc1", "", 3306)
	assert.Assert(t, err != nil)
}

func TestConfDSN(t *testing.T) {
	conf := Conf{
		Cluster:  "hpc1",
		Host:     "db.example.org",
		Port:     3306,
		Database: "slurm_acct_db",
		User:     "slurm",
		Passwd:   "secret",
	}
	assert.Equal(t, conf.DSN(), "slurm:secret@tcp(db.example.org:3306)/slurm_acct_db")
}
