package slurm

import "strings"

// Slurm 作业状态码, 与 slurmdbd job 表 state 列一致.
const (
	JOB_PENDING   uint64 = iota // queued waiting for initiation
	JOB_RUNNING                 // allocated resources and executing
	JOB_SUSPENDED               // allocated resources, execution suspended
	JOB_COMPLETE                // completed execution successfully
	JOB_CANCELLED               // cancelled by user
	JOB_FAILED                  // completed execution unsuccessfully
	JOB_TIMEOUT                 // terminated on reaching time limit
	JOB_NODE_FAIL               // terminated on node failure
	JOB_PREEMPTED               // terminated due to preemption
	JOB_BOOT_FAIL               // terminated due to node boot failure
	JOB_DEADLINE                // terminated on deadline
	JOB_OOM                     // experienced out of memory error
	JOB_END                     // not a real state, last entry in table
)

// JOB_STATE_BASE 用于从 state 列中剥离 flag 位, 只保留基础状态.
const JOB_STATE_BASE uint64 = 0x000000ff

var stateNames = map[uint64]string{
	JOB_PENDING:   "PENDING",
	JOB_RUNNING:   "RUNNING",
	JOB_SUSPENDED: "SUSPENDED",
	JOB_COMPLETE:  "COMPLETED",
	JOB_CANCELLED: "CANCELLED",
	JOB_FAILED:    "FAILED",
	JOB_TIMEOUT:   "TIMEOUT",
	JOB_NODE_FAIL: "NODE_FAIL",
	JOB_PREEMPTED: "PREEMPTED",
	JOB_BOOT_FAIL: "BOOT_FAIL",
	JOB_DEADLINE:  "DEADLINE",
	JOB_OOM:       "OUT_OF_MEMORY",
}

// finishedStates 为"已结束"状态集合: 作业运行过且已终止.
// 仍在排队/运行/挂起的作业不参与效率统计.
var finishedStates = map[uint64]struct{}{
	JOB_COMPLETE:  {},
	JOB_CANCELLED: {},
	JOB_FAILED:    {},
	JOB_TIMEOUT:   {},
	JOB_NODE_FAIL: {},
	JOB_PREEMPTED: {},
}

// BaseState 返回剥离 flag 位后的基础状态码.
func BaseState(state uint64) uint64 {
	return state & JOB_STATE_BASE
}

// IsFinished 判断作业是否处于终止状态.
func IsFinished(state uint64) bool {
	_, ok := finishedStates[BaseState(state)]
	return ok
}

// IsSuccess 判断作业是否成功结束.
func IsSuccess(state uint64) bool {
	return BaseState(state) == JOB_COMPLETE
}

// StateName 返回状态码对应的名称, 未知状态返回 "UNKNOWN".
func StateName(state uint64) string {
	if name, ok := stateNames[BaseState(state)]; ok {
		return name
	}
	return "UNKNOWN"
}

// FinishedStateNames 返回所有终止状态名称, 顺序固定, 供报表列使用.
func FinishedStateNames() []string {
	return []string{"COMPLETED", "CANCELLED", "FAILED", "TIMEOUT", "NODE_FAIL", "PREEMPTED"}
}

// StateCode 将 sacct 输出的状态名解析为状态码. sacct 会输出诸如
// "CANCELLED by 1234" 的附加信息, 取第一个词匹配即可.
func StateCode(name string) (uint64, bool) {
	head := name
	if i := strings.IndexByte(name, ' '); i >= 0 {
		head = name[:i]
	}
	head = strings.ToUpper(strings.TrimSpace(head))
	for code, n := range stateNames {
		if n == head {
			return code, true
		}
	}
	return 0, false
}
