package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

func ptr(v float64) *float64 { return &v }

func TestWriteAggregates(t *testing.T) {
	rows := []job.AggregateRow{
		{
			Faculty:         "Science",
			JobCount:        3,
			JobCountSuccess: 2,
			JobCountFailed:  1,
			CountByState:    map[string]int64{"COMPLETED": 2, "FAILED": 1},
			ExitCodes:       map[int64]int64{0: 2, 1: 1},
			WeightedCPUEff:  ptr(0.1),
			AverageCPUEff:   ptr(0.505),
		},
	}

	var buf bytes.Buffer
	assert.NilError(t, WriteAggregates(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, len(records), 2)

	header, row := records[0], records[1]
	byName := map[string]string{}
	for i, h := range header {
		byName[h] = row[i]
	}
	assert.Equal(t, byName["faculty"], "Science")
	assert.Equal(t, byName["job_count"], "3")
	assert.Equal(t, byName["weighted_cpu_efficiency"], "10.00")
	assert.Equal(t, byName["average_cpu_efficiency"], "50.50")
	// 未定义效率写 NULL, 不写 0
	assert.Equal(t, byName["weighted_memory_efficiency"], "NULL")
	assert.Equal(t, byName["count_completed"], "2")
	assert.Equal(t, byName["count_failed"], "1")
	assert.Equal(t, byName["count_cancelled"], "0")
	assert.Equal(t, byName["exit_codes"], "0:2;1:1")
}

func TestWriteJobs(t *testing.T) {
	rows := []job.JobRow{
		{
			JobID:   42,
			Faculty: "Arts",
			User:    "bob",
			State:   "COMPLETED",
			Success: true,
			CPUEff:  ptr(1.25), // 超过 100% 不截断
		},
	}

	var buf bytes.Buffer
	assert.NilError(t, WriteJobs(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NilError(t, err)
	assert.Equal(t, len(records), 2)

	byName := map[string]string{}
	for i, h := range records[0] {
		byName[h] = records[1][i]
	}
	assert.Equal(t, byName["job_id"], "42")
	assert.Equal(t, byName["cpu_efficiency"], "125.00")
	// 明细模式下未定义效率为空字段
	assert.Equal(t, byName["memory_efficiency"], "")
	assert.Equal(t, byName["time_efficiency"], "")
	assert.Equal(t, byName["is_success"], "1")
}
