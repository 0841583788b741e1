package domain

import "fmt"

// NotificationTag 推送类别
type NotificationTag string

const (
	TagOwnerPing        NotificationTag = "owner_ping"
	TagRecipientRelease NotificationTag = "recipient_release"
	TagOwnerRelease     NotificationTag = "owner_release"
	TagTest             NotificationTag = "test"
)

// Notification 推送给客户端的载荷
type Notification struct {
	Tag       NotificationTag `json:"tag"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	MessageID string          `json:"message_id,omitempty"`
}

// OwnerPingNotification 要求所有者登录确认存活
func OwnerPingNotification(messageID string) Notification {
	return Notification{
		Tag:       TagOwnerPing,
		Title:     "Verification required",
		Message:   "Please sign in to confirm you are still around.",
		MessageID: messageID,
	}
}

// RecipientReleaseNotification 通知接收人秘密已可查看
func RecipientReleaseNotification(messageID, owner string) Notification {
	return Notification{
		Tag:       TagRecipientRelease,
		Title:     "A secret was released to you",
		Message:   fmt.Sprintf("%s stopped responding. Sign in to read the message.", owner),
		MessageID: messageID,
	}
}

// OwnerReleaseNotification 通知所有者其消息已被释放
func OwnerReleaseNotification(messageID, recipient string) Notification {
	return Notification{
		Tag:       TagOwnerRelease,
		Title:     "Your secret was released",
		Message:   fmt.Sprintf("Verification failed too many times, the message was released to %s.", recipient),
		MessageID: messageID,
	}
}

// TestNotification 测试推送，toSelf 表示发给调用方自己
func TestNotification(from string, toSelf bool) Notification {
	msg := "Test notification from " + from
	if toSelf {
		msg = "This is a test notification."
	}
	return Notification{
		Tag:     TagTest,
		Title:   "Test",
		Message: msg,
	}
}
