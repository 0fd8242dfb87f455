// Package aggregate folds per-job efficiency records into per-faculty and
// global statistics. The fold is commutative and associative: partial
// aggregators built on disjoint job partitions can be merged before the
// single final ratio computation, so arrival order never affects results.
package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

// ErrFinalized 表示聚合器契约被破坏: finalize 之后继续 absorb/merge,
// 或重复 finalize. 属调用方 bug, 必须致命处理.
var ErrFinalized = errors.New("aggregator already finalized")

// GlobalLabel 为贯穿全部作业的全局聚合桶名.
const GlobalLabel = "Global"

// UnknownLabel 为无法归属院系的作业聚合桶名.
const UnknownLabel = "Unknown"

// dimension 为单个效率维度的累加器. 加权比值只累加"该维度有定义"
// 的作业的分子/分母原始量, 绝不把逐作业比值再求和充当加权值.
type dimension struct {
	numSum   float64
	denSum   float64
	ratioSum float64
	count    int64
}

func (d *dimension) add(ratio *float64, num, den float64) {
	if ratio == nil {
		return
	}
	d.numSum += num
	d.denSum += den
	d.ratioSum += *ratio
	d.count++
}

func (d *dimension) merge(o dimension) {
	d.numSum += o.numSum
	d.denSum += o.denSum
	d.ratioSum += o.ratioSum
	d.count += o.count
}

// weighted 返回 Σ分子/Σ分母, 分母为零时为 nil.
func (d *dimension) weighted() *float64 {
	if d.denSum <= 0 {
		return nil
	}
	return ptr(d.numSum / d.denSum)
}

// average 返回逐作业比值的算术平均, 无有效作业时为 nil.
func (d *dimension) average() *float64 {
	if d.count == 0 {
		return nil
	}
	return ptr(d.ratioSum / float64(d.count))
}

// Group 为单个聚合桶(一个院系, 或全局)的累加状态.
type Group struct {
	label string

	jobCount     int64
	successCount int64
	failedCount  int64
	countByState map[string]int64
	exitCodes    map[int64]int64

	totalElapsed   float64
	totalCPU       float64
	totalMaxRSS    float64
	totalReqMem    float64
	totalAllocCPUs int64
	totalTimeLimit float64
	totalNodes     int64
	totalWait      float64

	cpu, mem, time                dimension
	successCPU, successMem, sTime dimension
}

func newGroup(label string) *Group {
	return &Group{
		label:        label,
		countByState: map[string]int64{},
		exitCodes:    map[int64]int64{},
	}
}

func (g *Group) absorb(je job.JobEfficiency) {
	g.jobCount++
	if je.Success {
		g.successCount++
	} else {
		g.failedCount++
	}
	g.countByState[slurm.StateName(je.State)]++
	g.exitCodes[je.ExitCode]++

	g.totalElapsed += je.ElapsedSec
	g.totalCPU += je.CPUSecUsed
	g.totalMaxRSS += je.MemBytesUsed
	g.totalReqMem += je.MemBytesAllocated
	g.totalAllocCPUs += je.ReqCPUs
	g.totalTimeLimit += je.TimeLimitSec
	g.totalNodes += je.NodesAlloc
	g.totalWait += je.WaitSec

	g.cpu.add(je.CPUEff, je.CPUSecUsed, je.CPUSecAllocated)
	g.mem.add(je.MemEff, je.MemBytesUsed, je.MemBytesAllocated)
	g.time.add(je.TimeEff, je.ElapsedSec, je.TimeLimitSec)
	if je.Success {
		g.successCPU.add(je.CPUEff, je.CPUSecUsed, je.CPUSecAllocated)
		g.successMem.add(je.MemEff, je.MemBytesUsed, je.MemBytesAllocated)
		g.sTime.add(je.TimeEff, je.ElapsedSec, je.TimeLimitSec)
	}
}

func (g *Group) merge(o *Group) {
	g.jobCount += o.jobCount
	g.successCount += o.successCount
	g.failedCount += o.failedCount
	for k, v := range o.countByState {
		g.countByState[k] += v
	}
	for k, v := range o.exitCodes {
		g.exitCodes[k] += v
	}

	g.totalElapsed += o.totalElapsed
	g.totalCPU += o.totalCPU
	g.totalMaxRSS += o.totalMaxRSS
	g.totalReqMem += o.totalReqMem
	g.totalAllocCPUs += o.totalAllocCPUs
	g.totalTimeLimit += o.totalTimeLimit
	g.totalNodes += o.totalNodes
	g.totalWait += o.totalWait

	g.cpu.merge(o.cpu)
	g.mem.merge(o.mem)
	g.time.merge(o.time)
	g.successCPU.merge(o.successCPU)
	g.successMem.merge(o.successMem)
	g.sTime.merge(o.sTime)
}

// row 将累加状态转为报表行, 只在 finalize 阶段调用一次.
func (g *Group) row() job.AggregateRow {
	r := job.AggregateRow{
		Faculty:         g.label,
		JobCount:        g.jobCount,
		JobCountSuccess: g.successCount,
		JobCountFailed:  g.failedCount,
		CountByState:    g.countByState,
		ExitCodes:       g.exitCodes,

		TotalElapsedSec:   g.totalElapsed,
		TotalCPUSec:       g.totalCPU,
		TotalMaxRSSBytes:  g.totalMaxRSS,
		TotalReqMemBytes:  g.totalReqMem,
		TotalAllocCPUs:    g.totalAllocCPUs,
		TotalTimeLimitSec: g.totalTimeLimit,
		TotalNodes:        g.totalNodes,
		TotalWaitSec:      g.totalWait,

		WeightedCPUEff:  g.cpu.weighted(),
		AverageCPUEff:   g.cpu.average(),
		WeightedMemEff:  g.mem.weighted(),
		AverageMemEff:   g.mem.average(),
		WeightedTimeEff: g.time.weighted(),
		AverageTimeEff:  g.time.average(),

		SuccessWeightedCPUEff:  g.successCPU.weighted(),
		SuccessAverageCPUEff:   g.successCPU.average(),
		SuccessWeightedMemEff:  g.successMem.weighted(),
		SuccessAverageMemEff:   g.successMem.average(),
		SuccessWeightedTimeEff: g.sTime.weighted(),
		SuccessAverageTimeEff:  g.sTime.average(),
	}
	if g.jobCount > 0 {
		n := float64(g.jobCount)
		r.AvgElapsedSec = ptr(g.totalElapsed / n)
		r.AvgWaitSec = ptr(g.totalWait / n)
		r.AvgAllocCPUs = ptr(float64(g.totalAllocCPUs) / n)
		r.AvgReqMemBytes = ptr(g.totalReqMem / n)
		r.AvgMaxRSSBytes = ptr(g.totalMaxRSS / n)
	}
	return r
}

// Aggregator accumulates JobEfficiency records into per-faculty buckets plus
// one Global bucket spanning every job. Lifecycle: Absorb/Merge while the
// input streams, then exactly one Finalize, then Rows.
type Aggregator struct {
	groups    map[string]*Group
	global    *Group
	finalized bool

	facultyRows []job.AggregateRow
	globalRow   job.AggregateRow
}

func New() *Aggregator {
	return &Aggregator{
		groups: map[string]*Group{},
		global: newGroup(GlobalLabel),
	}
}

// Absorb 吸收一条效率记录. 全局桶无条件累加; 院系桶按 Faculty 归属,
// 未解析(空串)的记录落入 Unknown 桶.
func (a *Aggregator) Absorb(je job.JobEfficiency) error {
	if a.finalized {
		return fmt.Errorf("absorb job %d: %w", je.JobID, ErrFinalized)
	}
	a.global.absorb(je)

	label := je.Faculty
	if label == "" {
		label = UnknownLabel
	}
	g, ok := a.groups[label]
	if !ok {
		g = newGroup(label)
		a.groups[label] = g
	}
	g.absorb(je)
	return nil
}

// Merge 合并另一个部分聚合器的累加和. 两边都必须尚未 finalize,
// 比值计算推迟到唯一一次 Finalize, 避免合并已除比值引入舍入误差.
func (a *Aggregator) Merge(o *Aggregator) error {
	if a.finalized || o.finalized {
		return fmt.Errorf("merge: %w", ErrFinalized)
	}
	a.global.merge(o.global)
	for label, og := range o.groups {
		g, ok := a.groups[label]
		if !ok {
			g = newGroup(label)
			a.groups[label] = g
		}
		g.merge(og)
	}
	return nil
}

// Finalize 将累加和转为报表比值. 只允许调用一次.
func (a *Aggregator) Finalize() error {
	if a.finalized {
		return ErrFinalized
	}
	a.finalized = true

	a.facultyRows = make([]job.AggregateRow, 0, len(a.groups))
	for _, g := range a.groups {
		a.facultyRows = append(a.facultyRows, g.row())
	}
	// 按作业数降序, 同数按名称, 保证输出稳定
	sort.Slice(a.facultyRows, func(i, j int) bool {
		if a.facultyRows[i].JobCount != a.facultyRows[j].JobCount {
			return a.facultyRows[i].JobCount > a.facultyRows[j].JobCount
		}
		return a.facultyRows[i].Faculty < a.facultyRows[j].Faculty
	})
	a.globalRow = a.global.row()
	return nil
}

// Rows 返回院系行(含 Unknown)与全局行. 必须在 Finalize 之后调用.
func (a *Aggregator) Rows() ([]job.AggregateRow, job.AggregateRow, error) {
	if !a.finalized {
		return nil, job.AggregateRow{}, errors.New("aggregator not finalized")
	}
	return a.facultyRows, a.globalRow, nil
}

func ptr(v float64) *float64 { return &v }
