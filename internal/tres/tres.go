// Package tres 负责解码 Slurm 的 TRES(可追踪资源)编码与时长编码.
//
// slurmdbd 的表内使用数字 ID 形式("1=4,2=16000", 其中 mem 单位为 MB),
// sacct 输出使用名称形式("cpu=4,mem=16000M"). 两种形式都接受,
// 数量统一归一到规范单位: CPU 为核数, 内存为字节, 时长为秒.
package tres

import (
	"fmt"
	"strconv"
	"strings"
)

// 规范资源类别名.
const (
	KindCPU    = "cpu"
	KindMem    = "mem"
	KindEnergy = "energy"
	KindNode   = "node"
)

// tres_table 中的固定 TRES ID, 见 slurmdbd 文档.
var tresIDNames = map[string]string{
	"1": KindCPU,
	"2": KindMem,
	"3": KindEnergy,
	"4": KindNode,
	"5": "billing",
	"6": "fs/disk",
	"7": "vmem",
	"8": "pages",
}

// EncodingError 表示单条记录的 TRES/时长编码无法解析.
// 该错误按记录恢复: 跳过记录并计入 skipped 统计, 不中断整个运行.
type EncodingError struct {
	Input  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("无法解析资源编码 %q: %s", e.Input, e.Reason)
}

func encodingErr(input, format string, args ...any) *EncodingError {
	return &EncodingError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// Resources 为资源类别到规范单位数量的只读映射.
// 未知类别按原始名保留, 调用方按需取用, 不影响解析.
type Resources struct {
	quantities map[string]float64
}

// Get 返回指定类别的数量, 第二个返回值指示该类别是否存在.
func (r Resources) Get(kind string) (float64, bool) {
	v, ok := r.quantities[kind]
	return v, ok
}

// CPUs 返回 CPU 数量, 缺省为 0.
func (r Resources) CPUs() float64 {
	return r.quantities[KindCPU]
}

// MemoryBytes 返回内存字节数, 缺省为 0.
func (r Resources) MemoryBytes() float64 {
	return r.quantities[KindMem]
}

// Kinds 返回出现过的全部资源类别.
func (r Resources) Kinds() []string {
	kinds := make([]string, 0, len(r.quantities))
	for k := range r.quantities {
		kinds = append(kinds, k)
	}
	return kinds
}

// Parse 解析一条 TRES 编码. 空串视为"无资源信息", 返回空映射而非错误,
// 与 slurmdbd 中未填充的 tres 列语义一致.
func Parse(s string) (Resources, error) {
	rs := Resources{quantities: map[string]float64{}}
	if strings.TrimSpace(s) == "" {
		return rs, nil
	}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Resources{}, encodingErr(s, "字段 %q 缺少 '='", pair)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			return Resources{}, encodingErr(s, "字段 %q 缺少资源名", pair)
		}

		if name, isID := tresIDNames[key]; isID {
			// 数字 ID 形式, mem 的值单位为 MB
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Resources{}, encodingErr(s, "资源 %s 的数量 %q 不是数字", key, value)
			}
			if name == KindMem {
				n *= 1024 * 1024
			}
			rs.quantities[name] = n
			continue
		}
		if _, err := strconv.Atoi(key); err == nil {
			// 未知的数字 ID, 原样保留
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Resources{}, encodingErr(s, "资源 %s 的数量 %q 不是数字", key, value)
			}
			rs.quantities[key] = n
			continue
		}

		// 名称形式
		switch strings.ToLower(key) {
		case KindMem:
			bytes, err := ParseMemory(value)
			if err != nil {
				return Resources{}, encodingErr(s, "内存数量 %q 无法解析", value)
			}
			rs.quantities[KindMem] = bytes
		default:
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Resources{}, encodingErr(s, "资源 %s 的数量 %q 不是数字", key, value)
			}
			rs.quantities[strings.ToLower(key)] = n
		}
	}
	return rs, nil
}

// ParseMemory 将带单位后缀的内存量归一为字节数.
// 后缀 K/M/G/T 不区分大小写, 均为 1024 进制; 无后缀表示字节.
func ParseMemory(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, encodingErr(s, "内存量为空")
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'T', 't':
		mult = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, encodingErr(s, "不是数字")
	}
	return n * mult, nil
}

// ParseDuration 将 Slurm 时长编码解析为秒数. 接受的格式:
//
//	DD-HH:MM:SS
//	HH:MM:SS[.sss]
//	MM:SS
//	纯整数(秒)
//
// 空串与格式错误均返回 EncodingError.
func ParseDuration(s string) (float64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, encodingErr(orig, "时长为空")
	}

	var days int64
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil || n < 0 {
			return 0, encodingErr(orig, "天数 %q 不是非负整数", d)
		}
		days = n
		s = rest
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		if days > 0 {
			return 0, encodingErr(orig, "DD- 前缀后应跟 HH:MM:SS")
		}
		n, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || n < 0 {
			return 0, encodingErr(orig, "秒数 %q 不是非负整数", parts[0])
		}
		return float64(n), nil
	case 2:
		if days > 0 {
			return 0, encodingErr(orig, "DD- 前缀后应跟 HH:MM:SS")
		}
		m, err1 := strconv.ParseInt(parts[0], 10, 64)
		sec, err2 := parseSeconds(parts[1])
		if err1 != nil || err2 != nil || m < 0 {
			return 0, encodingErr(orig, "MM:SS 字段不是数字")
		}
		return float64(m)*60 + sec, nil
	case 3:
		h, err1 := strconv.ParseInt(parts[0], 10, 64)
		m, err2 := strconv.ParseInt(parts[1], 10, 64)
		sec, err3 := parseSeconds(parts[2])
		if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 {
			return 0, encodingErr(orig, "HH:MM:SS 字段不是数字")
		}
		return float64(days)*86400 + float64(h)*3600 + float64(m)*60 + sec, nil
	default:
		return 0, encodingErr(orig, "字段数应为 1~3, 实际为 %d", len(parts))
	}
}

// parseSeconds 解析秒字段, 允许 sacct TotalCPU 式的小数秒.
func parseSeconds(s string) (float64, error) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid seconds field %q", s)
	}
	return n, nil
}
