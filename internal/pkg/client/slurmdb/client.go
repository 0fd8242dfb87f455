// Package slurmdb 直接查询 slurmdbd 的记账数据库(MySQL/MariaDB),
// 作为效率统计引擎的记录源.
package slurmdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

// slurmdbd 约定: batch 步的 id_step 固定为 -5, 在步表中查不到特殊步
// 时以此作兜底.
const batchStepID = -5

type Conf struct {
	Cluster  string // slurm.conf 中的 ClusterName, 亦为记账表前缀
	Host     string
	Port     uint16
	Database string // 数据库名称
	User     string // 用户名
	Passwd   string // 密码
}

func (conf Conf) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", conf.User, conf.Passwd, conf.Host, conf.Port, conf.Database)
}

type Client struct {
	db     *sql.DB
	prefix string // 记账表前缀, 即集群名
	logger *slog.Logger
}

// New 建立记账数据库连接并验证连通性.
func New(ctx context.Context, conf Conf, logger *slog.Logger) (*Client, error) {
	db, err := sql.Open("mysql", conf.DSN())
	if err != nil {
		return nil, fmt.Errorf("无法打开记账数据库: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接记账数据库 %s:%d/%s: %w", conf.Host, conf.Port, conf.Database, err)
	}
	return &Client{db: db, prefix: conf.Cluster, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// DiscoverSpecialSteps 查询步表中的特殊步(batch/extern/interactive 等,
// id_step 为负). 统计作业 CPU 时间时必须排除这些步, 否则会与常规
// srun 步重复计数.
func (c *Client) DiscoverSpecialSteps(ctx context.Context) (map[string]int64, error) {
	stmt := fmt.Sprintf(`
		SELECT DISTINCT id_step, step_name
		FROM %s_step_table
		WHERE id_step < 0
		ORDER BY id_step
	`, c.prefix)

	rows, err := c.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("无法查询特殊步: %w", err)
	}
	defer rows.Close()

	steps := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("无法读取特殊步: %w", err)
		}
		steps[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("无法遍历特殊步: %w", err)
	}
	if _, ok := steps["batch"]; !ok {
		c.logger.Warn("step table has no batch step, falling back to default id",
			slog.Int("id", batchStepID))
	}
	return steps, nil
}

// Jobs 产出记账结束时间落在 [since, until) 内的作业记录, 逐条回调 fn.
//
// CPU 时间在 SQL 中按步聚合: 只累加常规步; 无 srun 步的作业回退到
// batch 步, 避免 batch 与 srun 步重复计数. 峰值内存取各步
// tres_usage_in_max 中内存项的数值最大值. 聚合出的使用量以规范
// TRES 编码交给解析器, 请求量(tres_req)原样透传.
func (c *Client) Jobs(ctx context.Context, since, until time.Time, fn func(job.RawJobRecord) error) error {
	steps, err := c.DiscoverSpecialSteps(ctx)
	if err != nil {
		return err
	}
	batchID, ok := steps["batch"]
	if !ok {
		batchID = batchStepID
		steps["batch"] = batchID
	}
	excludeIDs := make([]string, 0, len(steps))
	for _, id := range steps {
		excludeIDs = append(excludeIDs, strconv.FormatInt(id, 10))
	}

	stmt := fmt.Sprintf(`
		SELECT
			j.id_job,
			a.user,
			j.state,
			j.exit_code,
			j.time_submit,
			j.time_start,
			j.time_end,
			j.cpus_req,
			j.tres_req,
			j.timelimit,
			j.nodes_alloc,
			COALESCE(
				NULLIF(SUM(CASE WHEN s.id_step NOT IN (%[2]s)
								THEN s.user_sec ELSE 0 END), 0),
				MAX(CASE WHEN s.id_step = %[3]d THEN s.user_sec END),
				0
			) AS total_user_sec,
			COALESCE(
				NULLIF(SUM(CASE WHEN s.id_step NOT IN (%[2]s)
								THEN s.sys_sec ELSE 0 END), 0),
				MAX(CASE WHEN s.id_step = %[3]d THEN s.sys_sec END),
				0
			) AS total_sys_sec,
			COALESCE(
				NULLIF(SUM(CASE WHEN s.id_step NOT IN (%[2]s)
								THEN s.user_usec + s.sys_usec ELSE 0 END), 0),
				MAX(CASE WHEN s.id_step = %[3]d THEN s.user_usec + s.sys_usec END),
				0
			) AS total_cpu_usec,
			MAX(
				CAST(
					SUBSTRING_INDEX(
						SUBSTRING_INDEX(CONCAT(',', s.tres_usage_in_max), ',2=', -1),
						',', 1
					) AS UNSIGNED
				)
			) AS max_mem_bytes
		FROM %[1]s_job_table j
		JOIN %[1]s_assoc_table a ON j.id_assoc = a.id_assoc
		LEFT JOIN %[1]s_step_table s ON j.job_db_inx = s.job_db_inx
		WHERE j.time_end >= ?
		  AND j.time_end < ?
		  AND j.time_start > 0
		  AND j.time_end >= j.time_start
		GROUP BY j.job_db_inx
	`, c.prefix, strings.Join(excludeIDs, ", "), batchID)

	rows, err := c.db.QueryContext(ctx, stmt, since.Unix(), until.Unix())
	if err != nil {
		return fmt.Errorf("无法查询作业数据: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idJob, state, exitCode                  int64
			user                                    string
			timeSubmit, timeStart, timeEnd          int64
			cpusReq, timelimitMin, nodesAlloc       int64
			tresReq                                 sql.NullString
			totalUserSec, totalSysSec, totalCPUUsec float64
			maxMemBytes                             sql.NullInt64
		)
		if err := rows.Scan(&idJob, &user, &state, &exitCode,
			&timeSubmit, &timeStart, &timeEnd,
			&cpusReq, &tresReq, &timelimitMin, &nodesAlloc,
			&totalUserSec, &totalSysSec, &totalCPUUsec, &maxMemBytes); err != nil {
			return fmt.Errorf("无法读取作业数据: %w", err)
		}

		rec := job.RawJobRecord{
			JobID:        idJob,
			User:         user,
			State:        uint64(state),
			ExitCode:     exitCode,
			SubmitTime:   timeSubmit,
			StartTime:    timeStart,
			EndTime:      timeEnd,
			ElapsedSec:   float64(timeEnd - timeStart),
			ReqCPUs:      cpusReq,
			TimeLimitSec: float64(timelimitMin) * 60,
			NodesAlloc:   nodesAlloc,
			AllocTRES:    tresReq.String,
		}
		if timeStart > timeSubmit {
			rec.WaitSec = float64(timeStart - timeSubmit)
		}
		cpuSec := totalUserSec + totalSysSec + totalCPUUsec/1e6
		rec.UsedTRES = fmt.Sprintf("cpu=%s,mem=%d",
			strconv.FormatFloat(cpuSec, 'f', -1, 64), maxMemBytes.Int64)

		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("无法遍历作业数据: %w", err)
	}
	return nil
}
