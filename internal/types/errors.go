package types

import "errors"

// 错误分类，调用方通过 errors.Is 判断
var (
	// ErrValidation 输入不合法，写入前拒绝，不落库
	ErrValidation = errors.New("校验失败")

	// ErrNotFound 清单、数据块或分析不存在
	ErrNotFound = errors.New("不存在")

	// ErrDataIntegrity 清单存在但数据块缺失或长度不符，属于致命错误
	ErrDataIntegrity = errors.New("数据完整性错误")

	// ErrAlreadyExists 重复写入
	ErrAlreadyExists = errors.New("已存在")
)
