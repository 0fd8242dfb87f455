package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
	"github.com/nadinespy/hpc-data-analysis/internal/faculty"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

type sliceSource struct {
	records []job.RawJobRecord
}

func (s sliceSource) Jobs(_ context.Context, _, _ time.Time, fn func(job.RawJobRecord) error) error {
	for _, rec := range s.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type mapBackend map[string]string

func (b mapBackend) Lookup(_ context.Context, username string) (string, error) {
	unit, ok := b[username]
	if !ok {
		return "", faculty.ErrNotFound
	}
	return unit, nil
}

type downBackend struct{}

func (downBackend) Lookup(context.Context, string) (string, error) {
	return "", faculty.ErrBackendUnavailable
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id int64, user string, state uint64) job.RawJobRecord {
	return job.RawJobRecord{
		JobID:        id,
		User:         user,
		State:        state,
		ElapsedSec:   100,
		ReqCPUs:      2,
		TimeLimitSec: 400,
		AllocTRES:    "cpu=2,mem=4G",
		UsedTRES:     "cpu=100,mem=2147483648",
	}
}

func newResolver(b faculty.Backend) *faculty.Resolver {
	return faculty.NewResolver(b, faculty.NewCache(), nil, time.Second, discard())
}

func TestRunPipeline(t *testing.T) {
	src := sliceSource{records: []job.RawJobRecord{
		record(1, "alice", slurm.JOB_COMPLETE),
		record(2, "bob", slurm.JOB_FAILED),
		record(3, "alice", slurm.JOB_RUNNING), // 非终止, 被过滤
	}}
	backend := mapBackend{"alice": "Science", "bob": "Arts"}

	agg := aggregate.New()
	var details []job.JobEfficiency
	stats, err := New(newResolver(backend), discard()).Run(
		context.Background(), src, time.Time{}, time.Now(), agg,
		func(je job.JobEfficiency) error {
			details = append(details, je)
			return nil
		})
	assert.NilError(t, err)
	assert.Equal(t, stats.Processed, int64(2))
	assert.Equal(t, stats.Filtered, int64(1))
	assert.Equal(t, stats.Skipped, int64(0))
	assert.Equal(t, len(details), 2)
	assert.Equal(t, details[0].Faculty, "Science")

	rows, global, err := agg.Rows()
	assert.NilError(t, err)
	assert.Equal(t, global.JobCount, int64(2))
	assert.Equal(t, len(rows), 2)
	assert.Equal(t, *global.WeightedCPUEff, 0.5)
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	bad := record(7, "alice", slurm.JOB_COMPLETE)
	bad.AllocTRES = "cpu=oops"
	src := sliceSource{records: []job.RawJobRecord{
		record(1, "alice", slurm.JOB_COMPLETE),
		bad,
	}}

	agg := aggregate.New()
	stats, err := New(newResolver(mapBackend{"alice": "Science"}), discard()).Run(
		context.Background(), src, time.Time{}, time.Now(), agg, nil)
	assert.NilError(t, err)
	assert.Equal(t, stats.Processed, int64(1))
	assert.Equal(t, stats.Skipped, int64(1))

	_, global, err := agg.Rows()
	assert.NilError(t, err)
	assert.Equal(t, global.JobCount, int64(1))
}

func TestRunAbortsWhenBackendDown(t *testing.T) {
	src := sliceSource{records: []job.RawJobRecord{record(1, "alice", slurm.JOB_COMPLETE)}}

	agg := aggregate.New()
	_, err := New(newResolver(downBackend{}), discard()).Run(
		context.Background(), src, time.Time{}, time.Now(), agg, nil)
	assert.Assert(t, errors.Is(err, faculty.ErrBackendUnavailable))

	// 运行失败时不产出聚合结果
	_, _, err = agg.Rows()
	assert.Assert(t, err != nil)
}

func TestRunWithoutResolver(t *testing.T) {
	src := sliceSource{records: []job.RawJobRecord{record(1, "alice", slurm.JOB_COMPLETE)}}

	agg := aggregate.New()
	stats, err := New(nil, discard()).Run(
		context.Background(), src, time.Time{}, time.Now(), agg, nil)
	assert.NilError(t, err)
	assert.Equal(t, stats.Processed, int64(1))

	rows, _, err := agg.Rows()
	assert.NilError(t, err)
	assert.Equal(t, rows[0].Faculty, aggregate.UnknownLabel)
}
