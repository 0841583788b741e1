// Package storagetest 提供所有 storage.Store 实现共用的一致性测试。
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deadswitch/backend/internal/domain"
	"deadswitch/backend/internal/storage"
)

// Base 测试数据的基准时间
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewMessage 构造测试消息
func NewMessage(id, owner, recipient string, created time.Time) *domain.Message {
	return &domain.Message{
		ID:                    id,
		Owner:                 owner,
		Recipient:             recipient,
		SystemShare:           "102deadbeef01abcdef",
		VerifyEveryMinutes:    60,
		MaxFailedVerification: 3,
		OwnerLastSeen:         created,
		RecipientLastSeen:     created,
		CreatedTS:             created,
	}
}

// Run 对 newStore 返回的存储执行完整的一致性测试
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("Listings", func(t *testing.T) { testListings(t, newStore(t)) })
	t.Run("DueForCheck", func(t *testing.T) { testDueForCheck(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("ConcurrentUpdate", func(t *testing.T) { testConcurrentUpdate(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()

	id, err := s.CreateMessage(ctx, NewMessage("", "a@example.com", "b@example.com", Base))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Owner)
	assert.Equal(t, "b@example.com", got.Recipient)
	assert.True(t, got.CreatedTS.Equal(Base))
	assert.False(t, got.Revealed)
	assert.Zero(t, got.ConsecutiveFailures)

	_, err = s.CreateMessage(ctx, NewMessage(id, "a@example.com", "b@example.com", Base))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testListings(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i, id := range []string{"m-3", "m-1", "m-2"} {
		_, err := s.CreateMessage(ctx, NewMessage(id, "a@example.com", "b@example.com", Base.Add(time.Duration(3-i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := s.CreateMessage(ctx, NewMessage("m-4", "c@example.com", "a@example.com", Base))
	require.NoError(t, err)

	owned, err := s.ListByOwner(ctx, "a@example.com")
	require.NoError(t, err)
	require.Len(t, owned, 3)
	assert.Equal(t, []string{"m-2", "m-1", "m-3"}, ids(owned))

	received, err := s.ListByRecipient(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-4"}, ids(received))

	none, err := s.ListByOwner(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDueForCheck(t *testing.T, s storage.Store) {
	ctx := context.Background()

	fresh := NewMessage("fresh", "a@example.com", "b@example.com", Base)
	fresh.OwnerLastSeen = Base.Add(30 * time.Minute)
	stale := NewMessage("stale", "a@example.com", "b@example.com", Base)
	pinged := NewMessage("pinged", "a@example.com", "b@example.com", Base)
	ping := Base.Add(40 * time.Minute)
	pinged.LastPingSentAt = &ping
	released := NewMessage("released", "a@example.com", "b@example.com", Base)
	released.Revealed = true

	for _, m := range []*domain.Message{fresh, stale, pinged, released} {
		_, err := s.CreateMessage(ctx, m)
		require.NoError(t, err)
	}

	due, err := s.DueForCheck(ctx, Base.Add(60*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, ids(due))

	due, err = s.DueForCheck(ctx, Base.Add(100*time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale", "fresh", "pinged"}, ids(due))

	revealed, err := s.ListRevealed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"released"}, ids(revealed))

	_, err = s.UpdateMessage(ctx, "pinged", func(m *domain.Message) error {
		m.PingAttempts = 1
		return nil
	})
	require.NoError(t, err)
	retries, err := s.ListPingRetries(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"pinged"}, ids(retries))
	retries, err = s.ListPingRetries(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, retries)

	_, err = s.UpdateMessage(ctx, "pinged", func(m *domain.Message) error {
		m.RecordOwnerLogin(Base.Add(50 * time.Minute))
		return nil
	})
	require.NoError(t, err)
	retries, err = s.ListPingRetries(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, retries, "owner logged in after the ping")
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.CreateMessage(ctx, NewMessage("m-1", "a@example.com", "b@example.com", Base))
	require.NoError(t, err)

	updated, err := s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
		m.ConsecutiveFailures = 2
		m.Owner = "mallory@example.com"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.ConsecutiveFailures)
	assert.Equal(t, "a@example.com", updated.Owner)

	abort := errors.New("abort")
	_, err = s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
		m.ConsecutiveFailures = 9
		return abort
	})
	assert.ErrorIs(t, err, abort)

	got, err := s.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures, "aborted mutation must not persist")

	now := Base.Add(time.Hour)
	_, err = s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
		m.Revealed = true
		m.RevealedAt = &now
		return nil
	})
	require.NoError(t, err)
	got, err = s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
		m.Revealed = false
		return nil
	})
	require.NoError(t, err)
	assert.True(t, got.Revealed)
	require.NotNil(t, got.RevealedAt)
	assert.True(t, got.RevealedAt.Equal(now))

	_, err = s.UpdateMessage(ctx, "missing", func(m *domain.Message) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConcurrentUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.CreateMessage(ctx, NewMessage("m-1", "a@example.com", "b@example.com", Base))
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
				m.PingAttempts++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetMessage(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, workers, got.PingAttempts, "no lost updates")
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.CreateMessage(ctx, NewMessage("m-1", "a@example.com", "b@example.com", Base))
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteMessage(ctx, "m-1", "b@example.com"), domain.ErrForbidden)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "m-1", "c@example.com"), domain.ErrForbidden)

	_, err = s.UpdateMessage(ctx, "m-1", func(m *domain.Message) error {
		m.Revealed = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessage(ctx, "m-1", "b@example.com"))

	_, err = s.GetMessage(ctx, "m-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, "m-1", "a@example.com"), domain.ErrNotFound)

	owned, err := s.ListByOwner(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, owned)

	_, err = s.CreateMessage(ctx, NewMessage("m-2", "a@example.com", "b@example.com", Base))
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessage(ctx, "m-2", "a@example.com"))
}

func testUsers(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "a@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	user := &domain.User{ID: "a@example.com", PasswordHash: "hash", LastSeen: Base, CreatedAt: Base, UpdatedAt: Base}
	require.NoError(t, s.CreateUser(ctx, user))
	assert.ErrorIs(t, s.CreateUser(ctx, user), domain.ErrDuplicate)

	require.NoError(t, s.TouchUser(ctx, "a@example.com", Base.Add(time.Hour)))
	got, err := s.GetUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.Equal(Base.Add(time.Hour)))
	assert.False(t, got.HasSubscription())

	sub := domain.Subscription{Endpoint: "https://push.example.com/abc", Keys: domain.PushKeys{P256dh: "p", Auth: "a"}}
	require.NoError(t, s.SetSubscription(ctx, "a@example.com", sub))
	got, err = s.GetUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, sub, got.Subscription)

	require.NoError(t, s.SetSubscription(ctx, "a@example.com", domain.Subscription{}))
	got, err = s.GetUser(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, got.HasSubscription())

	assert.ErrorIs(t, s.TouchUser(ctx, "missing@example.com", Base), domain.ErrNotFound)
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// MustCreate 创建消息并在失败时终止测试
func MustCreate(t *testing.T, s storage.MessageRepository, m *domain.Message) string {
	t.Helper()
	id, err := s.CreateMessage(context.Background(), m)
	require.NoError(t, err, fmt.Sprintf("create %s", m.ID))
	return id
}
