package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"

	"github.com/nadinespy/hpc-data-analysis/internal/aggregate"
	"github.com/nadinespy/hpc-data-analysis/internal/engine"
	"github.com/nadinespy/hpc-data-analysis/internal/faculty"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/client/ldap"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/client/sacctfile"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/client/slurmdb"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/config"
	"github.com/nadinespy/hpc-data-analysis/internal/pkg/log"
	"github.com/nadinespy/hpc-data-analysis/internal/report"
	"github.com/nadinespy/hpc-data-analysis/pkg/model/job"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		logOutput  string
		logFormat  string
		logFile    string
		logLevel   string
		configPath string
		sinceStr   string
		untilStr   string
		collateBy  string
		outputPath string
		perJob     bool
		sacctPath  string
	)
	app := kingpin.New(filepath.Base(os.Args[0]), "Export HPC aggregate statistics with resource efficiency metrics.")
	app.HelpFlag.Short('h')
	// Logging related flags
	app.Flag("log.level", "Log level, one of [debug, info, warn, error].").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log.output", "Log output, one of [stdout, stderr, file].").Default("stderr").EnumVar(&logOutput, "stdout", "stderr", "file")
	app.Flag("log.format", "Log format, one of [json, text].").Default("text").EnumVar(&logFormat, "json", "text")
	app.Flag("log.file", "Log file path when --log.output=file.").PlaceHolder("PATH").StringVar(&logFile)
	app.Flag("config", "Path to YAML config with accounting DB and directory credentials.").Default("config.yaml").StringVar(&configPath)
	app.Flag("since", "Window start date (YYYY-MM-DD), inclusive.").Required().StringVar(&sinceStr)
	app.Flag("until", "Window end date (YYYY-MM-DD), exclusive.").Required().StringVar(&untilStr)
	app.Flag("collate-by", "Grouping key, one of [faculty, none]. 'none' skips directory lookups and reports global stats only.").Default("faculty").EnumVar(&collateBy, "faculty", "none")
	app.Flag("output", "Output CSV file path. When unset, rows go to stdout; when set, the Global row goes to a separate <output>_global.csv.").PlaceHolder("PATH").StringVar(&outputPath)
	app.Flag("per-job", "Emit one row per job instead of per-faculty aggregates.").BoolVar(&perJob)
	app.Flag("sacct-file", "Read jobs from a sacct --parsable2 export instead of the accounting database.").PlaceHolder("PATH").StringVar(&sacctPath)
	// Cross-flag validation
	app.PreAction(func(*kingpin.ParseContext) error {
		if strings.EqualFold(logOutput, "file") {
			if !isValidFilePath(logFile) {
				return fmt.Errorf("invalid --log.file path: %q", logFile)
			}
		}
		return nil
	})
	app.Version(version.Print("hpc-data-analysis"))

	_, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse commandline arguments: %w", err))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}

	// 创建 Logger
	logger, logClose, err := log.NewLogger(logOutput, logFormat, logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logClose()

	if err := run(configPath, sinceStr, untilStr, collateBy, outputPath, sacctPath, perJob, logger); err != nil {
		logger.Error("run failed", slog.Any("err", err))
		logClose()
		os.Exit(1)
	}
}

func run(configPath, sinceStr, untilStr, collateBy, outputPath, sacctPath string, perJob bool, logger *slog.Logger) error {
	since, until, err := parseDateRange(sinceStr, untilStr)
	if err != nil {
		return err
	}
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()

	// 记录源: 默认直连记账数据库, --sacct-file 时读导出文件
	var (
		src         engine.Source
		sourceSkips func() int64
	)
	if sacctPath != "" {
		fileSrc := sacctfile.New(sacctPath, logger)
		src = fileSrc
		sourceSkips = fileSrc.Skipped
	} else {
		if err := conf.RequireMySQL(); err != nil {
			return err
		}
		pool := slurmdb.NewPool(logger)
		defer pool.Close()
		dbctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := pool.FetchOrCreate(dbctx, slurmdb.Conf{
			Cluster:  conf.MySQL.Cluster,
			Host:     conf.MySQL.Host,
			Port:     conf.MySQL.Port,
			Database: conf.MySQL.Database,
			User:     conf.MySQL.User,
			Passwd:   conf.MySQL.Password,
		})
		if err != nil {
			return err
		}
		src = client
	}

	// 院系解析: collate-by=none 时跳过目录查询, 仅产出全局统计
	var (
		resolver *faculty.Resolver
		cache    *faculty.Cache
	)
	if collateBy != "none" {
		if err := conf.RequireLDAP(); err != nil {
			return err
		}
		backend := ldap.New(ldap.Conf{
			Host:      conf.LDAP.Host,
			Port:      conf.LDAP.Port,
			CAFile:    conf.LDAP.CAFile,
			BindDN:    conf.LDAP.BindDN,
			Password:  conf.LDAP.Password,
			UsersOU:   conf.LDAP.UsersOU,
			Attribute: conf.LDAP.Attribute,
			Timeout:   time.Duration(conf.LDAP.Timeout),
		}, logger)
		defer backend.Close()
		cache = faculty.NewCache()
		resolver = faculty.NewResolver(backend, cache, conf.Faculties, time.Duration(conf.LDAP.Timeout), logger)
	}

	agg := aggregate.New()
	var jobRows []job.JobRow
	var detail func(job.JobEfficiency) error
	if perJob {
		detail = func(je job.JobEfficiency) error {
			jobRows = append(jobRows, report.NewJobRow(je))
			return nil
		}
	}

	logger.Info("querying jobs",
		slog.Time("since", since), slog.Time("until", until),
		slog.String("collate_by", collateBy))
	stats, err := engine.New(resolver, logger).Run(ctx, src, since, until, agg, detail)
	if err != nil {
		if errors.Is(err, faculty.ErrBackendUnavailable) {
			return fmt.Errorf("faculty attribution would be systematically wrong, aborting: %w", err)
		}
		return err
	}

	skipped := stats.Skipped
	if sourceSkips != nil {
		skipped += sourceSkips()
	}
	logger.Info("processed jobs",
		slog.Int64("processed", stats.Processed),
		slog.Int64("skipped", skipped),
		slog.Int64("filtered_non_terminal", stats.Filtered))
	if cache != nil {
		logger.Info("directory lookups",
			slog.Int("unique_users", cache.Len()),
			slog.Int("unknown", cache.UnknownCount()))
	}

	return writeResults(agg, jobRows, outputPath, perJob, logger)
}

// writeResults 在聚合完整结束后一次性写出, 运行失败时不产出任何文件.
func writeResults(agg *aggregate.Aggregator, jobRows []job.JobRow, outputPath string, perJob bool, logger *slog.Logger) error {
	facultyRows, globalRow, err := agg.Rows()
	if err != nil {
		return err
	}

	out, closeOut, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	defer closeOut()

	if perJob {
		return report.WriteJobs(out, jobRows)
	}

	if outputPath == "" {
		// stdout: 院系行与全局行写入同一张表
		return report.WriteAggregates(out, append(facultyRows, globalRow))
	}

	if err := report.WriteAggregates(out, facultyRows); err != nil {
		return err
	}
	globalPath := globalOutputPath(outputPath)
	gf, err := os.Create(globalPath)
	if err != nil {
		return fmt.Errorf("create global output %s: %w", globalPath, err)
	}
	defer gf.Close()
	if err := report.WriteAggregates(gf, []job.AggregateRow{globalRow}); err != nil {
		return err
	}
	logger.Info("wrote reports",
		slog.String("faculty", outputPath), slog.String("global", globalPath))
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// globalOutputPath 由院系输出路径推导全局输出路径:
// stats.csv → stats_global.csv, 无 .csv 后缀时直接追加 _global.
func globalOutputPath(path string) string {
	if strings.HasSuffix(path, ".csv") {
		return strings.TrimSuffix(path, ".csv") + "_global.csv"
	}
	return path + "_global"
}

func parseDateRange(sinceStr, untilStr string) (time.Time, time.Time, error) {
	since, err := time.ParseInLocation(dateLayout, sinceStr, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --since date %q: %w", sinceStr, err)
	}
	until, err := time.ParseInLocation(dateLayout, untilStr, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --until date %q: %w", untilStr, err)
	}
	if !since.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must be before --until")
	}
	return since, until, nil
}

// isValidFilePath performs a light-weight validation for file paths.
// It accepts both absolute and relative paths and rejects empty paths
// or paths that end with a path separator (which usually indicate a directory).
func isValidFilePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	// Reject paths that end with a separator, which imply directories
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return false
	}
	base := filepath.Base(p)
	if base == "." || base == string(os.PathSeparator) {
		return false
	}
	return true
}
