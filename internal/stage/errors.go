package stage

import "fmt"

// ParseError 表示能力输出无法解析为结构化结果，允许上层有限重试。
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s 阶段输出解析失败: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnavailableError 表示能力调用本身失败（网络/超时/配额），对该股票终止流水线。
type UnavailableError struct {
	Stage string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s 阶段能力调用失败: %v", e.Stage, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
