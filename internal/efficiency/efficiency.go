// Package efficiency computes per-job resource efficiency ratios from a raw
// accounting record and its decoded TRES quantities.
package efficiency

import (
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/internal/tres"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

// Compute 由一条原始记录及其已解码的请求/使用资源量计算效率记录.
//
// cpu_efficiency  = cpu_seconds_used / (elapsed * requested_cpus)
// mem_efficiency  = peak_mem_bytes / requested_mem_bytes
// time_efficiency = elapsed / requested_time
//
// 任一分母为零时, 对应效率为 nil(未定义), 而非 0. 比值不做上限截断:
// 超过 1.0 的值同样有效(如作业内部多线程超订, 或内存上限未被强制执行).
func Compute(rec job.RawJobRecord, alloc, used tres.Resources) job.JobEfficiency {
	cpuSecUsed := used.CPUs()
	memUsed := used.MemoryBytes()
	memAlloc := alloc.MemoryBytes()
	cpuSecAlloc := rec.ElapsedSec * float64(rec.ReqCPUs)

	je := job.JobEfficiency{
		JobID:    rec.JobID,
		User:     rec.User,
		State:    rec.State,
		Success:  slurm.IsSuccess(rec.State),
		ExitCode: rec.ExitCode,

		CPUSecUsed:        cpuSecUsed,
		CPUSecAllocated:   cpuSecAlloc,
		MemBytesUsed:      memUsed,
		MemBytesAllocated: memAlloc,
		ElapsedSec:        rec.ElapsedSec,
		TimeLimitSec:      rec.TimeLimitSec,

		WaitSec:    rec.WaitSec,
		ReqCPUs:    rec.ReqCPUs,
		NodesAlloc: rec.NodesAlloc,
	}

	if cpuSecAlloc > 0 {
		je.CPUEff = ptr(cpuSecUsed / cpuSecAlloc)
	}
	if memAlloc > 0 {
		je.MemEff = ptr(memUsed / memAlloc)
	}
	if rec.TimeLimitSec > 0 {
		je.TimeEff = ptr(rec.ElapsedSec / rec.TimeLimitSec)
	}
	return je
}

func ptr(v float64) *float64 { return &v }
