package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"deadswitch/backend/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMessage(id string) domain.Message {
	return domain.Message{
		ID:                    id,
		Owner:                 "owner@example.com",
		Recipient:             "recipient@example.com",
		SystemShare:           "102deadbeef01abcdef",
		VerifyEveryMinutes:    60,
		MaxFailedVerification: 3,
		OwnerLastSeen:         t0,
		RecipientLastSeen:     t0,
		CreatedTS:             t0,
	}
}

func TestAdvance(t *testing.T) {
	t.Run("未到期不修改", func(t *testing.T) {
		m := newMessage("m1")
		out := Advance(&m, t0.Add(59*time.Minute))
		assert.Equal(t, OutcomeNone, out)
		assert.Zero(t, m.ConsecutiveFailures)
		assert.Nil(t, m.LastPingSentAt)
	})

	t.Run("到期后增加计数并记录ping时间", func(t *testing.T) {
		m := newMessage("m1")
		m.PingAttempts = 2
		m.LastPingError = "gone"
		now := t0.Add(time.Hour)

		out := Advance(&m, now)
		assert.Equal(t, OutcomePing, out)
		assert.Equal(t, 1, m.ConsecutiveFailures)
		if assert.NotNil(t, m.LastPingSentAt) {
			assert.True(t, m.LastPingSentAt.Equal(now))
		}
		assert.Zero(t, m.PingAttempts)
		assert.Empty(t, m.LastPingError)
		assert.Equal(t, domain.StateAtRisk, m.State())
	})

	t.Run("达到上限时释放且不再ping", func(t *testing.T) {
		m := newMessage("m1")
		m.ConsecutiveFailures = 2
		sent := t0
		m.LastPingSentAt = &sent

		out := Advance(&m, t0.Add(time.Hour))
		assert.Equal(t, OutcomeRelease, out)
		assert.Equal(t, 3, m.ConsecutiveFailures)
		assert.True(t, m.LastPingSentAt.Equal(t0))
	})

	t.Run("计数不会超过上限", func(t *testing.T) {
		m := newMessage("m1")
		m.ConsecutiveFailures = 3

		out := Advance(&m, t0.Add(time.Hour))
		assert.Equal(t, OutcomeRelease, out)
		assert.Equal(t, 3, m.ConsecutiveFailures)
	})

	t.Run("已释放的消息不处理", func(t *testing.T) {
		m := newMessage("m1")
		m.Revealed = true
		assert.Equal(t, OutcomeNone, Advance(&m, t0.Add(10*time.Hour)))
	})

	t.Run("单次失败上限直接释放", func(t *testing.T) {
		m := newMessage("m1")
		m.MaxFailedVerification = 1
		assert.Equal(t, OutcomeRelease, Advance(&m, t0.Add(time.Hour)))
	})
}

func TestPlan(t *testing.T) {
	policy := Policy{MaxPingAttempts: 3, ReminderInterval: 24 * time.Hour}
	now := t0.Add(time.Hour)

	t.Run("每条消息至多一条命令且检测优先", func(t *testing.T) {
		due := newMessage("m1")
		sent := t0
		due.LastPingSentAt = &sent
		due.PingAttempts = 1

		retry := newMessage("m2")
		retry.OwnerLastSeen = now
		retry.LastPingSentAt = &sent
		retry.PingAttempts = 1

		released := newMessage("m3")
		released.Revealed = true

		cmds := Plan(now, Snapshot{
			Due:         []domain.Message{due},
			PingRetries: []domain.Message{due, retry},
			Revealed:    []domain.Message{released},
		}, policy)

		assert.Equal(t, []Command{
			{Kind: CommandCheck, MessageID: "m1", Owner: due.Owner, Recipient: due.Recipient},
			{Kind: CommandRetryPing, MessageID: "m2", Owner: retry.Owner, Recipient: retry.Recipient},
			{Kind: CommandNotifyRecipient, MessageID: "m3", Owner: released.Owner, Recipient: released.Recipient},
		}, cmds)
	})

	t.Run("快照中过期的数据会被重新判断", func(t *testing.T) {
		stale := newMessage("m1")
		stale.OwnerLastSeen = now

		exhausted := newMessage("m2")
		sent := t0
		exhausted.LastPingSentAt = &sent
		exhausted.PingAttempts = 3

		notified := newMessage("m3")
		notified.Revealed = true
		at := now.Add(-time.Hour)
		notified.RecipientNotifiedAt = &at

		cmds := Plan(now, Snapshot{
			Due:         []domain.Message{stale},
			PingRetries: []domain.Message{exhausted},
			Revealed:    []domain.Message{notified},
		}, policy)
		assert.Empty(t, cmds)
	})

	t.Run("提醒间隔到期后再次通知接收人", func(t *testing.T) {
		m := newMessage("m1")
		m.Revealed = true
		at := now.Add(-25 * time.Hour)
		m.RecipientNotifiedAt = &at

		cmds := Plan(now, Snapshot{Revealed: []domain.Message{m}}, policy)
		assert.Len(t, cmds, 1)
		assert.Equal(t, CommandNotifyRecipient, cmds[0].Kind)

		cmds = Plan(now, Snapshot{Revealed: []domain.Message{m}}, Policy{MaxPingAttempts: 1})
		assert.Empty(t, cmds)
	})
}
