package job

// RawJobRecord 表示从记账数据源取回的一条原始作业记录.
// 时间戳为 Unix 秒, 资源请求/使用以 TRES 编码字符串形式携带,
// 记录一旦由数据源产出即视为只读.
type RawJobRecord struct {
	JobID        int64
	User         string
	State        uint64 // Slurm 作业状态码, 见 internal/pkg/common/slurm
	ExitCode     int64
	SubmitTime   int64
	StartTime    int64
	EndTime      int64
	ElapsedSec   float64 // EndTime - StartTime, 由数据源计算
	WaitSec      float64 // StartTime - SubmitTime
	ReqCPUs      int64   // 请求的 CPU 核数
	TimeLimitSec float64 // 作业时间上限, 秒
	NodesAlloc   int64
	AllocTRES    string // 请求/分配的 TRES 编码, 如 "1=4,2=16000" 或 "cpu=4,mem=16000M"
	UsedTRES     string // 实际使用的 TRES 编码, cpu 为 CPU 秒, mem 为峰值字节数
}

// JobEfficiency 为完成作业的效率记录, 每条 RawJobRecord 产出一条,
// 由聚合器消费, 创建后不再修改. 三个效率字段以 nil 表示"未定义"
// (即对应分母为零), 与 0 严格区分.
type JobEfficiency struct {
	JobID    int64
	User     string
	Faculty  string // 解析前为空串, 解析失败落入 "Unknown"
	State    uint64
	Success  bool
	ExitCode int64

	CPUEff  *float64
	MemEff  *float64
	TimeEff *float64

	// 加权效率所需的分子/分母原始量
	CPUSecUsed        float64
	CPUSecAllocated   float64 // ElapsedSec * ReqCPUs
	MemBytesUsed      float64
	MemBytesAllocated float64
	ElapsedSec        float64
	TimeLimitSec      float64

	WaitSec    float64
	ReqCPUs    int64
	NodesAlloc int64
}

// AggregateRow is one flat output row for the report sink, either a single
// faculty bucket or the run-wide Global row. Efficiency fields are ratios
// (1.0 == 100%); nil marks an undefined value and must serialize as a null
// field, never as 0.
type AggregateRow struct {
	Faculty string

	JobCount        int64
	JobCountSuccess int64
	JobCountFailed  int64
	CountByState    map[string]int64
	ExitCodes       map[int64]int64

	TotalElapsedSec   float64
	TotalCPUSec       float64
	TotalMaxRSSBytes  float64
	TotalReqMemBytes  float64
	TotalAllocCPUs    int64
	TotalTimeLimitSec float64
	TotalNodes        int64
	TotalWaitSec      float64

	AvgElapsedSec  *float64
	AvgWaitSec     *float64
	AvgAllocCPUs   *float64
	AvgReqMemBytes *float64
	AvgMaxRSSBytes *float64

	WeightedCPUEff  *float64
	AverageCPUEff   *float64
	WeightedMemEff  *float64
	AverageMemEff   *float64
	WeightedTimeEff *float64
	AverageTimeEff  *float64

	// 仅统计 COMPLETED 作业的效率块
	SuccessWeightedCPUEff  *float64
	SuccessAverageCPUEff   *float64
	SuccessWeightedMemEff  *float64
	SuccessAverageMemEff   *float64
	SuccessWeightedTimeEff *float64
	SuccessAverageTimeEff  *float64
}

// JobRow 为按作业明细输出模式下的一行.
type JobRow struct {
	JobID   int64
	User    string
	Faculty string
	State   string
	Success bool

	CPUEff  *float64
	MemEff  *float64
	TimeEff *float64

	ElapsedSec   float64
	WaitSec      float64
	TimeLimitSec float64
	CPUSecUsed   float64
	MaxRSSBytes  float64
	ReqMemBytes  float64
	AllocCPUs    int64
	Nodes        int64
}
