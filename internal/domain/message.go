package domain

import "time"

// State 消息在存活检测中的状态
type State string

const (
	StateActive   State = "active"
	StateAtRisk   State = "at_risk"
	StateReleased State = "released"
)

// Message 一条托管中的秘密消息。
//
// SystemShare 为服务端持有的分片，只有在 Revealed 之后才会展示给接收人。
// 所有时间均为 UTC。
type Message struct {
	ID                    string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Owner                 string     `json:"owner" gorm:"column:owner;type:varchar(255);index;not null"`
	Recipient             string     `json:"recipient" gorm:"column:recipient;type:varchar(255);index;not null"`
	SystemShare           string     `json:"system_share" gorm:"column:system_share;type:text;not null"`
	VerifyEveryMinutes    int        `json:"verify_every_minutes" gorm:"column:verify_every_minutes;not null"`
	MaxFailedVerification int        `json:"max_failed_verification" gorm:"column:max_failed_verification;not null"`
	ConsecutiveFailures   int        `json:"consecutive_failures" gorm:"column:consecutive_failures;default:0"`
	OwnerLastSeen         time.Time  `json:"owner_last_seen" gorm:"column:owner_last_seen"`
	RecipientLastSeen     time.Time  `json:"recipient_last_seen" gorm:"column:recipient_last_seen"`
	LastPingSentAt        *time.Time `json:"last_ping_sent_at,omitempty" gorm:"column:last_ping_sent_at"`
	PingDelivered         bool       `json:"ping_delivered" gorm:"column:ping_delivered;default:false"`
	PingAttempts          int        `json:"ping_attempts" gorm:"column:ping_attempts;default:0"`
	LastPingError         string     `json:"last_ping_error,omitempty" gorm:"column:last_ping_error;type:varchar(500)"`
	Revealed              bool       `json:"revealed" gorm:"column:revealed;default:false;index"`
	RevealedAt            *time.Time `json:"revealed_at,omitempty" gorm:"column:revealed_at"`
	RecipientNotifiedAt   *time.Time `json:"recipient_notified_on,omitempty" gorm:"column:recipient_notified_at"`
	OwnerNotifiedAt       *time.Time `json:"owner_notified_on,omitempty" gorm:"column:owner_notified_at"`
	CreatedTS             time.Time  `json:"created_ts" gorm:"column:created_ts;index"`
}

// Interval 返回检测周期
func (m *Message) Interval() time.Duration {
	return time.Duration(m.VerifyEveryMinutes) * time.Minute
}

// LastContact 返回最近一次与所有者的交互时间：登录或发出 ping，取较晚者。
func (m *Message) LastContact() time.Time {
	last := m.OwnerLastSeen
	if m.LastPingSentAt != nil && m.LastPingSentAt.After(last) {
		last = *m.LastPingSentAt
	}
	return last
}

// NextCheckAt 返回下一次检测截止时间
func (m *Message) NextCheckAt() time.Time {
	return m.LastContact().Add(m.Interval())
}

// IsDue 判断在 now 时刻是否已到检测截止时间
func (m *Message) IsDue(now time.Time) bool {
	if m.Revealed {
		return false
	}
	return !now.Before(m.NextCheckAt())
}

// State 由字段推导出当前状态
func (m *Message) State() State {
	switch {
	case m.Revealed:
		return StateReleased
	case m.ConsecutiveFailures > 0:
		return StateAtRisk
	default:
		return StateActive
	}
}

// NeedsPingRetry 判断最近一次 ping 是否投递失败且仍可重试。
// maxAttempts 为单次 ping 的最大投递次数（含首次）。
// 所有者在 ping 之后已登录时不再重试。
func (m *Message) NeedsPingRetry(maxAttempts int) bool {
	if m.Revealed || m.LastPingSentAt == nil || m.PingDelivered {
		return false
	}
	if m.OwnerLastSeen.After(*m.LastPingSentAt) {
		return false
	}
	return m.PingAttempts < maxAttempts
}

// NeedsRecipientNotice 判断是否需要（再次）通知接收人
func (m *Message) NeedsRecipientNotice(now time.Time, interval time.Duration) bool {
	if !m.Revealed {
		return false
	}
	if m.RecipientNotifiedAt == nil {
		return true
	}
	return interval > 0 && !now.Before(m.RecipientNotifiedAt.Add(interval))
}

// RecordOwnerLogin 记录所有者登录：刷新 OwnerLastSeen 并清零失败计数。
// 已释放的消息保持不变。
func (m *Message) RecordOwnerLogin(at time.Time) bool {
	if m.Revealed {
		return false
	}
	if at.After(m.OwnerLastSeen) {
		m.OwnerLastSeen = at
	}
	m.ConsecutiveFailures = 0
	return true
}

// Clone 返回深拷贝
func (m *Message) Clone() *Message {
	c := *m
	c.LastPingSentAt = cloneTime(m.LastPingSentAt)
	c.RevealedAt = cloneTime(m.RevealedAt)
	c.RecipientNotifiedAt = cloneTime(m.RecipientNotifiedAt)
	c.OwnerNotifiedAt = cloneTime(m.OwnerNotifiedAt)
	return &c
}

// ApplyMutation 在 current 的副本上执行 fn 并返回结果。
//
// 身份字段（ID、Owner、Recipient、SystemShare、CreatedTS）与周期参数不可变，
// Revealed 只能从 false 变为 true。fn 返回错误时 current 保持不变。
func ApplyMutation(current *Message, fn func(*Message) error) (*Message, error) {
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Owner = current.Owner
	next.Recipient = current.Recipient
	next.SystemShare = current.SystemShare
	next.CreatedTS = current.CreatedTS
	next.VerifyEveryMinutes = current.VerifyEveryMinutes
	next.MaxFailedVerification = current.MaxFailedVerification
	if current.Revealed {
		next.Revealed = true
		if next.RevealedAt == nil {
			next.RevealedAt = cloneTime(current.RevealedAt)
		}
	}
	if next.ConsecutiveFailures < 0 {
		next.ConsecutiveFailures = 0
	}
	return next, nil
}

// MessageView 按调用方身份裁剪后的消息视图。
// 接收人在释放之前看不到 SystemShare。
type MessageView struct {
	ID                    string     `json:"id"`
	Owner                 string     `json:"owner"`
	Recipient             string     `json:"recipient"`
	SystemShare           string     `json:"system_share,omitempty"`
	VerifyEveryMinutes    int        `json:"verify_every_minutes"`
	MaxFailedVerification int        `json:"max_failed_verification"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	State                 State      `json:"state"`
	NextCheckAt           *time.Time `json:"next_check_at,omitempty"`
	LastPingSentAt        *time.Time `json:"last_ping_sent_at,omitempty"`
	Revealed              bool       `json:"revealed"`
	RevealedAt            *time.Time `json:"revealed_at,omitempty"`
	RecipientNotifiedAt   *time.Time `json:"recipient_notified_on,omitempty"`
	CreatedTS             time.Time  `json:"created_ts"`
}

// ViewFor 生成 viewer 可见的视图
func (m *Message) ViewFor(viewer string) MessageView {
	v := MessageView{
		ID:                    m.ID,
		Owner:                 m.Owner,
		Recipient:             m.Recipient,
		VerifyEveryMinutes:    m.VerifyEveryMinutes,
		MaxFailedVerification: m.MaxFailedVerification,
		ConsecutiveFailures:   m.ConsecutiveFailures,
		State:                 m.State(),
		LastPingSentAt:        cloneTime(m.LastPingSentAt),
		Revealed:              m.Revealed,
		RevealedAt:            cloneTime(m.RevealedAt),
		RecipientNotifiedAt:   cloneTime(m.RecipientNotifiedAt),
		CreatedTS:             m.CreatedTS,
	}
	if viewer == m.Owner {
		v.SystemShare = m.SystemShare
		if !m.Revealed {
			next := m.NextCheckAt()
			v.NextCheckAt = &next
		}
	} else if m.Revealed {
		v.SystemShare = m.SystemShare
	}
	return v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
