package aggregate

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

func ptrOf(v float64) *float64 { return &v }

// cpuJob 构造一条只关心 cpu 维度的效率记录.
func cpuJob(id int64, faculty string, used, alloc float64) job.JobEfficiency {
	je := job.JobEfficiency{
		JobID:           id,
		Faculty:         faculty,
		State:           slurm.JOB_COMPLETE,
		Success:         true,
		CPUSecUsed:      used,
		CPUSecAllocated: alloc,
	}
	if alloc > 0 {
		je.CPUEff = ptrOf(used / alloc)
	}
	return je
}

func TestSingleJobWeightedEqualsOwnRatio(t *testing.T) {
	a := New()
	assert.NilError(t, a.Absorb(cpuJob(1, "Science", 30, 40)))
	assert.NilError(t, a.Finalize())

	rows, global, err := a.Rows()
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 1)
	assert.Equal(t, *rows[0].WeightedCPUEff, 0.75)
	assert.Equal(t, *rows[0].AverageCPUEff, 0.75)
	assert.Equal(t, *global.WeightedCPUEff, 0.75)
}

func TestWeightedVersusAverage(t *testing.T) {
	// 作业 A: 10/10, 作业 B: 1/100 → 加权 11/110 = 0.10, 平均 0.505
	a := New()
	assert.NilError(t, a.Absorb(cpuJob(1, "Science", 10, 10)))
	assert.NilError(t, a.Absorb(cpuJob(2, "Science", 1, 100)))
	assert.NilError(t, a.Finalize())

	rows, _, err := a.Rows()
	assert.NilError(t, err)
	assert.Equal(t, *rows[0].WeightedCPUEff, 11.0/110.0)
	assert.Equal(t, *rows[0].AverageCPUEff, (1.0+0.01)/2)
}

func TestEqualAllocationWeightedEqualsAverage(t *testing.T) {
	a := New()
	assert.NilError(t, a.Absorb(cpuJob(1, "Science", 20, 100)))
	assert.NilError(t, a.Absorb(cpuJob(2, "Science", 80, 100)))
	assert.NilError(t, a.Finalize())

	rows, _, err := a.Rows()
	assert.NilError(t, err)
	assert.Equal(t, *rows[0].WeightedCPUEff, 0.5)
	assert.Equal(t, *rows[0].AverageCPUEff, 0.5)
}

func TestUndefinedDimensionExcludedButCounted(t *testing.T) {
	a := New()
	// cpu 维度未定义, 但 time 维度有效
	je := job.JobEfficiency{
		JobID:        3,
		Faculty:      "Arts",
		State:        slurm.JOB_FAILED,
		ElapsedSec:   50,
		TimeLimitSec: 100,
		TimeEff:      ptrOf(0.5),
	}
	assert.NilError(t, a.Absorb(je))
	assert.NilError(t, a.Absorb(cpuJob(4, "Arts", 10, 20)))
	assert.NilError(t, a.Finalize())

	rows, _, err := a.Rows()
	assert.NilError(t, err)
	assert.Equal(t, rows[0].JobCount, int64(2))
	// cpu 聚合只含一个作业
	assert.Equal(t, *rows[0].WeightedCPUEff, 0.5)
	assert.Equal(t, *rows[0].AverageCPUEff, 0.5)
	// time 聚合只含另一个作业
	assert.Equal(t, *rows[0].WeightedTimeEff, 0.5)
}

func TestJobCountsSumToGlobal(t *testing.T) {
	a := New()
	assert.NilError(t, a.Absorb(cpuJob(1, "Science", 1, 2)))
	assert.NilError(t, a.Absorb(cpuJob(2, "Arts", 1, 2)))
	assert.NilError(t, a.Absorb(cpuJob(3, "", 1, 2))) // 未解析 → Unknown
	assert.NilError(t, a.Absorb(cpuJob(4, UnknownLabel, 1, 2)))
	assert.NilError(t, a.Finalize())

	rows, global, err := a.Rows()
	assert.NilError(t, err)
	var sum int64
	var sawUnknown bool
	for _, r := range rows {
		sum += r.JobCount
		if r.Faculty == UnknownLabel {
			sawUnknown = true
			assert.Equal(t, r.JobCount, int64(2))
		}
	}
	assert.Assert(t, sawUnknown)
	assert.Equal(t, sum, global.JobCount)
	assert.Equal(t, global.JobCount, int64(4))
}

func TestOrderIndependence(t *testing.T) {
	jobs := []job.JobEfficiency{
		cpuJob(1, "Science", 10, 10),
		cpuJob(2, "Science", 1, 100),
		cpuJob(3, "Arts", 33, 77),
		cpuJob(4, "Arts", 5, 9),
	}

	forward := New()
	for _, je := range jobs {
		assert.NilError(t, forward.Absorb(je))
	}
	assert.NilError(t, forward.Finalize())

	backward := New()
	for i := len(jobs) - 1; i >= 0; i-- {
		assert.NilError(t, backward.Absorb(jobs[i]))
	}
	assert.NilError(t, backward.Finalize())

	fr, fg, err := forward.Rows()
	assert.NilError(t, err)
	br, bg, err := backward.Rows()
	assert.NilError(t, err)

	assert.Equal(t, *fg.WeightedCPUEff, *bg.WeightedCPUEff)
	assert.Equal(t, *fg.AverageCPUEff, *bg.AverageCPUEff)
	assert.Equal(t, len(fr), len(br))
	for i := range fr {
		assert.Equal(t, fr[i].Faculty, br[i].Faculty)
		assert.Equal(t, *fr[i].WeightedCPUEff, *br[i].WeightedCPUEff)
	}
}

func TestMergePartialAggregators(t *testing.T) {
	jobs := []job.JobEfficiency{
		cpuJob(1, "Science", 10, 10),
		cpuJob(2, "Science", 1, 100),
		cpuJob(3, "Arts", 33, 77),
	}

	whole := New()
	for _, je := range jobs {
		assert.NilError(t, whole.Absorb(je))
	}
	assert.NilError(t, whole.Finalize())

	p1, p2 := New(), New()
	assert.NilError(t, p1.Absorb(jobs[0]))
	assert.NilError(t, p2.Absorb(jobs[1]))
	assert.NilError(t, p2.Absorb(jobs[2]))
	assert.NilError(t, p1.Merge(p2))
	assert.NilError(t, p1.Finalize())

	wr, wg, err := whole.Rows()
	assert.NilError(t, err)
	mr, mg, err := p1.Rows()
	assert.NilError(t, err)

	assert.Equal(t, wg.JobCount, mg.JobCount)
	assert.Equal(t, *wg.WeightedCPUEff, *mg.WeightedCPUEff)
	for i := range wr {
		assert.Equal(t, wr[i].Faculty, mr[i].Faculty)
		assert.Equal(t, *wr[i].WeightedCPUEff, *mr[i].WeightedCPUEff)
	}
}

func TestFinalizedContract(t *testing.T) {
	a := New()
	assert.NilError(t, a.Absorb(cpuJob(1, "Science", 1, 2)))
	assert.NilError(t, a.Finalize())

	assert.Assert(t, errors.Is(a.Absorb(cpuJob(2, "Science", 1, 2)), ErrFinalized))
	assert.Assert(t, errors.Is(a.Finalize(), ErrFinalized))
	assert.Assert(t, errors.Is(a.Merge(New()), ErrFinalized))
}

func TestSuccessOnlyBlock(t *testing.T) {
	a := New()
	ok := cpuJob(1, "Science", 50, 100)
	failed := cpuJob(2, "Science", 100, 100)
	failed.State = slurm.JOB_FAILED
	failed.Success = false
	assert.NilError(t, a.Absorb(ok))
	assert.NilError(t, a.Absorb(failed))
	assert.NilError(t, a.Finalize())

	rows, _, err := a.Rows()
	assert.NilError(t, err)
	assert.Equal(t, rows[0].JobCountSuccess, int64(1))
	assert.Equal(t, rows[0].JobCountFailed, int64(1))
	assert.Equal(t, *rows[0].WeightedCPUEff, 150.0/200.0)
	assert.Equal(t, *rows[0].SuccessWeightedCPUEff, 0.5)
	assert.Equal(t, rows[0].CountByState["FAILED"], int64(1))
}
