// Package sacctfile 从 sacct 导出文件读取作业记录, 供无记账数据库
// 直连权限的场景使用. 期望的导出命令:
//
//	sacct -a -X --noheader --parsable2 \
//	    --format=JobIDRaw,User,State,ExitCode,Submit,Start,End,AllocCPUS,ReqTRES,Timelimit,Elapsed,TotalCPU,MaxRSS,NNodes
//
// 字段以 '|' 分隔, 时长为 [DD-]HH:MM:SS 编码, 时间戳为 ISO8601 或
// Unix 秒. 编码损坏的行按记录恢复: 跳过并计数, 不中断读取.
package sacctfile

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nadinespy/hpc-data-analysis/internal/pkg/common/slurm"
	"github.com/nadinespy/hpc-data-analysis/internal/tres"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

const fieldCount = 14

type Source struct {
	path    string
	logger  *slog.Logger
	skipped int64
}

func New(path string, logger *slog.Logger) *Source {
	return &Source{path: path, logger: logger}
}

// Skipped 返回因编码错误而被跳过的行数, 计入运行结束时的 skipped 汇总.
func (s *Source) Skipped() int64 {
	return s.skipped
}

// Jobs 实现 engine.Source: 逐行读取导出文件, 只产出记账结束时间落在
// [since, until) 内且状态为终止态的记录.
func (s *Source) Jobs(ctx context.Context, since, until time.Time, fn func(job.RawJobRecord) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("无法打开 sacct 导出文件: %w", err)
	}
	defer f.Close()

	s.skipped = 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			s.skipped++
			s.logger.Warn("skipping malformed sacct line",
				slog.Int("line", lineno), slog.Any("err", err))
			continue
		}
		if rec.EndTime < since.Unix() || rec.EndTime >= until.Unix() {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("无法读取 sacct 导出文件: %w", err)
	}
	return nil
}

func parseLine(line string) (job.RawJobRecord, error) {
	fields := strings.Split(line, "|")
	if len(fields) != fieldCount {
		return job.RawJobRecord{}, &tres.EncodingError{
			Input: line, Reason: fmt.Sprintf("字段数应为 %d, 实际为 %d", fieldCount, len(fields)),
		}
	}

	jobID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return job.RawJobRecord{}, &tres.EncodingError{Input: fields[0], Reason: "作业号不是整数"}
	}
	state, ok := slurm.StateCode(fields[2])
	if !ok {
		return job.RawJobRecord{}, &tres.EncodingError{Input: fields[2], Reason: "未知的作业状态"}
	}

	submit, err := parseTime(fields[4])
	if err != nil {
		return job.RawJobRecord{}, err
	}
	start, err := parseTime(fields[5])
	if err != nil {
		return job.RawJobRecord{}, err
	}
	end, err := parseTime(fields[6])
	if err != nil {
		return job.RawJobRecord{}, err
	}

	cpus, _ := strconv.ParseInt(fields[7], 10, 64)
	nodes, _ := strconv.ParseInt(fields[13], 10, 64)

	rec := job.RawJobRecord{
		JobID:      jobID,
		User:       fields[1],
		State:      state,
		ExitCode:   parseExitCode(fields[3]),
		SubmitTime: submit,
		StartTime:  start,
		EndTime:    end,
		ReqCPUs:    cpus,
		NodesAlloc: nodes,
		AllocTRES:  fields[8],
	}
	if end > start && start > 0 {
		rec.ElapsedSec = float64(end - start)
	} else if elapsed := fields[10]; elapsed != "" {
		sec, err := tres.ParseDuration(elapsed)
		if err != nil {
			return job.RawJobRecord{}, err
		}
		rec.ElapsedSec = sec
	}
	if start > submit && submit > 0 {
		rec.WaitSec = float64(start - submit)
	}

	// UNLIMITED / Partition_Limit 视为无时间上限
	if tl := fields[9]; tl != "" && !strings.EqualFold(tl, "UNLIMITED") && !strings.EqualFold(tl, "Partition_Limit") {
		sec, err := tres.ParseDuration(tl)
		if err != nil {
			return job.RawJobRecord{}, err
		}
		rec.TimeLimitSec = sec
	}

	var cpuSec float64
	if fields[11] != "" {
		cpuSec, err = tres.ParseDuration(fields[11])
		if err != nil {
			return job.RawJobRecord{}, err
		}
	}
	var maxRSS float64
	if fields[12] != "" {
		maxRSS, err = tres.ParseMemory(fields[12])
		if err != nil {
			return job.RawJobRecord{}, err
		}
	}
	rec.UsedTRES = fmt.Sprintf("cpu=%s,mem=%s",
		strconv.FormatFloat(cpuSec, 'f', -1, 64),
		strconv.FormatFloat(maxRSS, 'f', -1, 64))
	return rec, nil
}

// parseTime 接受 Unix 秒或 ISO8601(本地时区); Unknown/None 视为 0.
func parseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "Unknown") || strings.EqualFold(s, "None") {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
	if err != nil {
		return 0, &tres.EncodingError{Input: s, Reason: "时间戳格式错误"}
	}
	return t.Unix(), nil
}

// parseExitCode 解析 sacct 的 "code:signal" 形式, 只取返回码.
func parseExitCode(s string) int64 {
	code, _, _ := strings.Cut(s, ":")
	n, err := strconv.ParseInt(code, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
