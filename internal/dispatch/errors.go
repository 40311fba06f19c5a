// Package dispatch 提交阶段的校验错误
package dispatch

import "errors"

var (
	// ErrInvalidTarget 目标标识不是非空纯数字串
	ErrInvalidTarget = errors.New("invalid target identifier")

	// ErrEmptyBatch 过滤无效行之后批量目标列表为空
	ErrEmptyBatch = errors.New("no valid targets in batch")
)
