package errors

import "errors"

// ErrCASConflict 条件更新影响 0 行：记录状态已被其他请求改变
var ErrCASConflict = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrDuplicateKey 唯一约束冲突
var ErrDuplicateKey = errors.New("记录已存在")
