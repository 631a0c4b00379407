package service

import "errors"

var (
	// ErrAuth 表示 API Key 缺失、未知或已吊销。
	ErrAuth = errors.New("service: 无效的 API Key")
	// ErrValidation 表示请求内容不合法。
	ErrValidation = errors.New("service: 请求校验失败")
	// ErrNotFound 表示记录不存在或不属于调用方；二者刻意不作区分，
	// 避免泄露其他用户记录的存在性。
	ErrNotFound = errors.New("service: 记录不存在")
	// ErrDuplicateUser 表示用户名或邮箱已被注册。
	ErrDuplicateUser = errors.New("service: 用户名或邮箱已注册")
)
