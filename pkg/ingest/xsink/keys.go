package xsink

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// KeyString 将主键值规范化为字符串，用于去重与索引。
// 数值按十进制表示（1、1.0 与 json.Number("1") 相同），字符串原样返回。
// 不支持的类型（对象、数组、布尔、nil）返回 false。
func KeyString(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return k, true
	case json.Number:
		if r, ok := numberRat(k); ok {
			return ratString(r), true
		}
		return k.String(), true
	case int:
		return strconv.Itoa(k), true
	case int32:
		return strconv.FormatInt(int64(k), 10), true
	case int64:
		return strconv.FormatInt(k, 10), true
	case uint32:
		return strconv.FormatUint(uint64(k), 10), true
	case uint64:
		return strconv.FormatUint(k, 10), true
	case float32:
		return floatString(float64(k)), true
	case float64:
		return floatString(k), true
	default:
		return "", false
	}
}

func floatString(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func ratString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CompareKeys 比较两个键：数值按大小，字符串按字典序。
// 返回 -1、0、1；类型不兼容时返回 ErrIncomparable。
func CompareKeys(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("%w: %T vs %T", ErrIncomparable, a, b)
		}
		return strings.Compare(as, bs), nil
	}
	ar, ok := toRat(a)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrIncomparable, a)
	}
	br, ok := toRat(b)
	if !ok {
		return 0, fmt.Errorf("%w: %T vs %T", ErrIncomparable, a, b)
	}
	return ar.Cmp(br), nil
}

// IsNumeric 判断键是否为数值。
func IsNumeric(v any) bool {
	_, ok := toRat(v)
	return ok
}

// toRat 使用有理数比较，避免大整数转 float64 后丢失精度。
func toRat(v any) (*big.Rat, bool) {
	switch k := v.(type) {
	case json.Number:
		return numberRat(k)
	case int:
		return new(big.Rat).SetInt64(int64(k)), true
	case int32:
		return new(big.Rat).SetInt64(int64(k)), true
	case int64:
		return new(big.Rat).SetInt64(k), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(k)), true
	case uint64:
		return new(big.Rat).SetUint64(k), true
	case float32:
		return floatRat(float64(k))
	case float64:
		return floatRat(k)
	default:
		return nil, false
	}
}

func numberRat(n json.Number) (*big.Rat, bool) {
	return new(big.Rat).SetString(n.String())
}

func floatRat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}
