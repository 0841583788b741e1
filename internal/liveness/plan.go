// Package liveness 实现消息的存活检测状态机与调度。
//
// 状态转换由纯函数 Plan 与 Advance 描述，Scheduler 负责用时钟驱动它们，
// 并把产生的命令交给 worker 执行。
package liveness

import (
	"time"

	"deadswitch/backend/internal/domain"
)

// CommandKind 命令类型
type CommandKind int

const (
	// CommandCheck 检测截止时间已到：推进失败计数，随后 ping 所有者或释放
	CommandCheck CommandKind = iota
	// CommandRetryPing 重新投递上一次未送达的 ping，不影响计数
	CommandRetryPing
	// CommandNotifyRecipient 通知（或提醒）接收人消息已释放
	CommandNotifyRecipient
)

func (k CommandKind) String() string {
	switch k {
	case CommandCheck:
		return "check"
	case CommandRetryPing:
		return "retry_ping"
	case CommandNotifyRecipient:
		return "notify_recipient"
	default:
		return "unknown"
	}
}

// Command 一条待执行的副作用
type Command struct {
	Kind      CommandKind
	MessageID string
	Owner     string
	Recipient string
}

// key 同一条消息同时只执行一条命令，与命令类型无关
func (c Command) key() string {
	return c.MessageID
}

// Policy 调度策略参数
type Policy struct {
	// MaxPingAttempts 单次 ping 的最大投递次数（含首次）
	MaxPingAttempts int
	// ReminderInterval 释放后重复提醒接收人的间隔，0 表示只通知一次
	ReminderInterval time.Duration
}

// Snapshot 一次 tick 从存储读取的数据
type Snapshot struct {
	Due         []domain.Message
	PingRetries []domain.Message
	Revealed    []domain.Message
}

// Plan 根据快照计算本次 tick 需要执行的命令，不产生任何副作用。
//
// 同一条消息在一次 tick 中至多产生一条命令；到期检测优先于 ping 重试。
func Plan(now time.Time, snap Snapshot, policy Policy) []Command {
	cmds := make([]Command, 0, len(snap.Due)+len(snap.PingRetries)+len(snap.Revealed))
	seen := make(map[string]bool, cap(cmds))

	add := func(kind CommandKind, m *domain.Message) {
		if seen[m.ID] {
			return
		}
		seen[m.ID] = true
		cmds = append(cmds, Command{Kind: kind, MessageID: m.ID, Owner: m.Owner, Recipient: m.Recipient})
	}

	for i := range snap.Due {
		if m := &snap.Due[i]; m.IsDue(now) {
			add(CommandCheck, m)
		}
	}
	for i := range snap.PingRetries {
		if m := &snap.PingRetries[i]; m.NeedsPingRetry(policy.MaxPingAttempts) {
			add(CommandRetryPing, m)
		}
	}
	for i := range snap.Revealed {
		if m := &snap.Revealed[i]; m.NeedsRecipientNotice(now, policy.ReminderInterval) {
			add(CommandNotifyRecipient, m)
		}
	}
	return cmds
}

// Outcome Advance 的结果
type Outcome int

const (
	// OutcomeNone 消息已不再到期（例如所有者刚刚登录），无需处理
	OutcomeNone Outcome = iota
	// OutcomePing 失败计数已增加，需要 ping 所有者
	OutcomePing
	// OutcomeRelease 失败计数达到上限，需要释放
	OutcomeRelease
)

func (o Outcome) String() string {
	switch o {
	case OutcomePing:
		return "ping"
	case OutcomeRelease:
		return "release"
	default:
		return "none"
	}
}

// Advance 在原子更新中推进一条到期消息的状态。
//
// 消息在 now 时刻不再到期时返回 OutcomeNone 且不做修改，这保证了与 tick
// 并发到达的登录总是优先。ping 路径会把 LastPingSentAt 记为本次尝试时间，
// 下一个截止时间从尝试而不是送达开始计算。
func Advance(m *domain.Message, now time.Time) Outcome {
	if !m.IsDue(now) {
		return OutcomeNone
	}

	if m.ConsecutiveFailures < m.MaxFailedVerification {
		m.ConsecutiveFailures++
	}
	if m.ConsecutiveFailures >= m.MaxFailedVerification {
		return OutcomeRelease
	}

	sent := now
	m.LastPingSentAt = &sent
	m.PingDelivered = false
	m.PingAttempts = 0
	m.LastPingError = ""
	return OutcomePing
}
