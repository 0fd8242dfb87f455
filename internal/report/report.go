// Package report 将聚合结果与按作业明细写出为 CSV.
// 效率值以百分数呈现, 保留两位小数; 未定义值在聚合表中写 NULL,
// 在明细表中写空字段, 绝不写 0.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

var aggregateHeader = []string{
	"faculty",
	"job_count",
	"weighted_cpu_efficiency",
	"average_cpu_efficiency",
	"weighted_memory_efficiency",
	"average_memory_efficiency",
	"weighted_time_efficiency",
	"average_time_efficiency",
	"job_count_success",
	"job_count_failed",
	"count_completed",
	"count_cancelled",
	"count_failed",
	"count_timeout",
	"count_node_fail",
	"count_preempted",
	"success_weighted_cpu_efficiency",
	"success_average_cpu_efficiency",
	"success_weighted_memory_efficiency",
	"success_average_memory_efficiency",
	"success_weighted_time_efficiency",
	"success_average_time_efficiency",
	"total_elapsed_sec",
	"avg_elapsed_sec",
	"total_cpu_sec",
	"total_maxrss_bytes",
	"avg_maxrss_bytes",
	"total_reqmem_bytes",
	"avg_reqmem_bytes",
	"total_alloccpus",
	"avg_alloccpus",
	"total_timelimit_sec",
	"total_nodes",
	"total_wait_sec",
	"avg_wait_sec",
	"exit_codes",
}

var jobHeader = []string{
	"job_id",
	"faculty",
	"cpu_efficiency",
	"memory_efficiency",
	"time_efficiency",
	"user",
	"state",
	"is_success",
	"elapsed_sec",
	"wait_sec",
	"timelimit_sec",
	"total_cpu_sec",
	"maxrss_bytes",
	"reqmem_bytes",
	"alloccpus",
	"nodes",
}

// WriteAggregates 写出聚合行. 调用方负责行序(院系行按作业数降序,
// 全局行既可并入也可单独成文件).
func WriteAggregates(w io.Writer, rows []job.AggregateRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(aggregateHeader); err != nil {
		return fmt.Errorf("write aggregate header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(aggregateRecord(r)); err != nil {
			return fmt.Errorf("write aggregate row %s: %w", r.Faculty, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func aggregateRecord(r job.AggregateRow) []string {
	rec := []string{
		r.Faculty,
		strconv.FormatInt(r.JobCount, 10),
		pct(r.WeightedCPUEff, "NULL"),
		pct(r.AverageCPUEff, "NULL"),
		pct(r.WeightedMemEff, "NULL"),
		pct(r.AverageMemEff, "NULL"),
		pct(r.WeightedTimeEff, "NULL"),
		pct(r.AverageTimeEff, "NULL"),
		strconv.FormatInt(r.JobCountSuccess, 10),
		strconv.FormatInt(r.JobCountFailed, 10),
	}
	for _, state := range slurm.FinishedStateNames() {
		rec = append(rec, strconv.FormatInt(r.CountByState[state], 10))
	}
	rec = append(rec,
		pct(r.SuccessWeightedCPUEff, "NULL"),
		pct(r.SuccessAverageCPUEff, "NULL"),
		pct(r.SuccessWeightedMemEff, "NULL"),
		pct(r.SuccessAverageMemEff, "NULL"),
		pct(r.SuccessWeightedTimeEff, "NULL"),
		pct(r.SuccessAverageTimeEff, "NULL"),
		num(r.TotalElapsedSec),
		optNum(r.AvgElapsedSec, "NULL"),
		num(r.TotalCPUSec),
		num(r.TotalMaxRSSBytes),
		optNum(r.AvgMaxRSSBytes, "NULL"),
		num(r.TotalReqMemBytes),
		optNum(r.AvgReqMemBytes, "NULL"),
		strconv.FormatInt(r.TotalAllocCPUs, 10),
		optNum(r.AvgAllocCPUs, "NULL"),
		num(r.TotalTimeLimitSec),
		strconv.FormatInt(r.TotalNodes, 10),
		num(r.TotalWaitSec),
		optNum(r.AvgWaitSec, "NULL"),
		exitCodesField(r.ExitCodes),
	)
	return rec
}

// WriteJobs 写出按作业明细行.
func WriteJobs(w io.Writer, rows []job.JobRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(jobHeader); err != nil {
		return fmt.Errorf("write job header: %w", err)
	}
	for _, r := range rows {
		success := "0"
		if r.Success {
			success = "1"
		}
		rec := []string{
			strconv.FormatInt(r.JobID, 10),
			r.Faculty,
			pct(r.CPUEff, ""),
			pct(r.MemEff, ""),
			pct(r.TimeEff, ""),
			r.User,
			r.State,
			success,
			num(r.ElapsedSec),
			num(r.WaitSec),
			num(r.TimeLimitSec),
			num(r.CPUSecUsed),
			num(r.MaxRSSBytes),
			num(r.ReqMemBytes),
			strconv.FormatInt(r.AllocCPUs, 10),
			strconv.FormatInt(r.Nodes, 10),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write job row %d: %w", r.JobID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// NewJobRow 由效率记录构造明细输出行.
func NewJobRow(je job.JobEfficiency) job.JobRow {
	return job.JobRow{
		JobID:        je.JobID,
		User:         je.User,
		Faculty:      je.Faculty,
		State:        slurm.StateName(je.State),
		Success:      je.Success,
		CPUEff:       je.CPUEff,
		MemEff:       je.MemEff,
		TimeEff:      je.TimeEff,
		ElapsedSec:   je.ElapsedSec,
		WaitSec:      je.WaitSec,
		TimeLimitSec: je.TimeLimitSec,
		CPUSecUsed:   je.CPUSecUsed,
		MaxRSSBytes:  je.MemBytesUsed,
		ReqMemBytes:  je.MemBytesAllocated,
		AllocCPUs:    je.ReqCPUs,
		Nodes:        je.NodesAlloc,
	}
}

// pct 将比值格式化为百分数, nil 写 null 占位.
func pct(v *float64, null string) string {
	if v == nil {
		return null
	}
	return strconv.FormatFloat(*v*100, 'f', 2, 64)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func optNum(v *float64, null string) string {
	if v == nil {
		return null
	}
	return num(*v)
}

// exitCodesField 以 "code:count;..." 形式编码退出码分布, 按退出码升序.
func exitCodesField(codes map[int64]int64) string {
	if len(codes) == 0 {
		return ""
	}
	keys := make([]int64, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d:%d", k, codes[k]))
	}
	return strings.Join(parts, ";")
}
