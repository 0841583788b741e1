package domain

import (
	"fmt"
	"net/mail"
	"strings"
)

// 消息参数边界
const (
	MinVerifyEveryMinutes = 1
	MaxVerifyEveryMinutes = 4336204 // 约 8.25 年
	MinFailedVerification = 1
	MaxFailedVerification = 9
	MaxIdentityLength     = 254
	MaxSystemShareLength  = 64 * 1024
	MinPasswordLength     = 8
	MaxPasswordLength     = 72
)

// CreateMessageRequest 创建消息请求
type CreateMessageRequest struct {
	Recipient             string `json:"recipient"`
	SystemShare           string `json:"system_share"`
	VerifyEveryMinutes    int    `json:"verify_every_minutes"`
	MaxFailedVerification int    `json:"max_failed_verification"`
}

// Validate 校验参数边界，不涉及存储
func (r *CreateMessageRequest) Validate() error {
	if err := ValidateIdentity(r.Recipient); err != nil {
		return err
	}
	if strings.TrimSpace(r.SystemShare) == "" {
		return fmt.Errorf("%w: system_share is required", ErrInvalidParameters)
	}
	if len(r.SystemShare) > MaxSystemShareLength {
		return fmt.Errorf("%w: system_share too long", ErrInvalidParameters)
	}
	if r.VerifyEveryMinutes < MinVerifyEveryMinutes || r.VerifyEveryMinutes > MaxVerifyEveryMinutes {
		return fmt.Errorf("%w: verify_every_minutes must be in [%d, %d]",
			ErrInvalidParameters, MinVerifyEveryMinutes, MaxVerifyEveryMinutes)
	}
	if r.MaxFailedVerification < MinFailedVerification || r.MaxFailedVerification > MaxFailedVerification {
		return fmt.Errorf("%w: max_failed_verification must be in [%d, %d]",
			ErrInvalidParameters, MinFailedVerification, MaxFailedVerification)
	}
	return nil
}

// NormalizeIdentity 统一身份标识格式
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ValidateIdentity 身份标识必须是合法邮箱地址
func ValidateIdentity(id string) error {
	id = NormalizeIdentity(id)
	if id == "" || len(id) > MaxIdentityLength {
		return fmt.Errorf("%w: invalid identity", ErrInvalidParameters)
	}
	addr, err := mail.ParseAddress(id)
	if err != nil || addr.Address != id {
		return fmt.Errorf("%w: invalid identity %q", ErrInvalidParameters, id)
	}
	return nil
}

// ValidatePassword 校验密码长度（bcrypt 上限 72 字节）
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidParameters, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrInvalidParameters, MaxPasswordLength)
	}
	return nil
}
