// Package engine 按 数据源 → 解码 → 效率计算 → 院系解析 → 聚合 的
// 流水线单遍消费记账记录.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
	"github.com/nadinespy/hpc-data-analysis/internal/efficiency"
	"github.com/nadinespy/hpc-data-analysis/internal/faculty"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/internal/tres"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

// Source 为记账记录源: 产出记账结束时间落在 [since, until) 内的作业,
// 序列有限, 每次调用重新产出.
type Source interface {
	Jobs(ctx context.Context, since, until time.Time, fn func(job.RawJobRecord) error) error
}

// Stats 为一次运行的计数摘要.
type Stats struct {
	Processed int64 // 进入聚合的作业数
	Skipped   int64 // 因资源编码错误而跳过的作业数
	Filtered  int64 // 非终止状态而被过滤的作业数
}

// Engine runs the single-pass batch computation. The resolver may be nil,
// in which case faculty attribution is skipped and every job lands in the
// Unknown bucket (global-only runs).
type Engine struct {
	resolver *faculty.Resolver
	logger   *slog.Logger
}

func New(resolver *faculty.Resolver, logger *slog.Logger) *Engine {
	return &Engine{resolver: resolver, logger: logger}
}

// Run 消费数据源的全部记录并聚合. 逐条失败(编码错误)就地恢复并计数;
// 目录后端不可用等运行级失败使整个运行失败, 此时不产出任何聚合结果.
// detail 非 nil 时额外收到每条效率记录(按作业明细输出模式).
func (e *Engine) Run(ctx context.Context, src Source, since, until time.Time,
	agg *aggregate.Aggregator, detail func(job.JobEfficiency) error) (Stats, error) {

	var stats Stats
	err := src.Jobs(ctx, since, until, func(rec job.RawJobRecord) error {
		if !slurm.IsFinished(rec.State) {
			stats.Filtered++
			return nil
		}

		alloc, err := tres.Parse(rec.AllocTRES)
		if err != nil {
			return e.skip(&stats, rec, err)
		}
		used, err := tres.Parse(rec.UsedTRES)
		if err != nil {
			return e.skip(&stats, rec, err)
		}

		je := efficiency.Compute(rec, alloc, used)
		if e.resolver != nil {
			fac, err := e.resolver.Resolve(ctx, rec.User)
			if err != nil {
				return fmt.Errorf("resolve faculty for job %d: %w", rec.JobID, err)
			}
			je.Faculty = fac
		}

		if err := agg.Absorb(je); err != nil {
			return err
		}
		if detail != nil {
			if err := detail(je); err != nil {
				return fmt.Errorf("emit job %d detail: %w", rec.JobID, err)
			}
		}
		stats.Processed++
		return nil
	})
	if err != nil {
		return stats, err
	}

	if err := agg.Finalize(); err != nil {
		return stats, err
	}
	e.logger.Info("run complete",
		slog.Int64("processed", stats.Processed),
		slog.Int64("skipped", stats.Skipped),
		slog.Int64("filtered", stats.Filtered))
	return stats, nil
}

// skip 处理单条记录的编码错误: 跳过并计数, 运行继续.
// 非编码错误原样上抛, 使运行失败.
func (e *Engine) skip(stats *Stats, rec job.RawJobRecord, err error) error {
	var encErr *tres.EncodingError
	if !errors.As(err, &encErr) {
		return err
	}
	stats.Skipped++
	e.logger.Warn("skipping job with malformed resource encoding",
		slog.Int64("job", rec.JobID), slog.Any("err", err))
	return nil
}
