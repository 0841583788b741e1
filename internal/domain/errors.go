package domain

import (
	"errors"
	"fmt"
)

// 领域错误分类，各层通过 errors.Is 判断。
var (
	// ErrInvalidParameters 参数不合法（阈值、周期、标识等）
	ErrInvalidParameters = errors.New("invalid parameters")
	// ErrCombination 分片无法还原出一致的秘密
	ErrCombination = errors.New("secret combination failed")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrForbidden 调用方无权执行该操作
	ErrForbidden = errors.New("forbidden")
	// ErrDuplicate 记录 ID 冲突
	ErrDuplicate = errors.New("duplicate id")
	// ErrDeliveryFailed 推送通道投递失败
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrUnauthorized 凭证无效
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrUserExists      = fmt.Errorf("user %w", ErrDuplicate)
	ErrNoSubscription  = fmt.Errorf("%w: no push subscription", ErrDeliveryFailed)
)
