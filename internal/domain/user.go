package domain

import "time"

// PushKeys Web Push 订阅密钥
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription 浏览器推送订阅
type Subscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

// IsZero 判断订阅是否为空
func (s Subscription) IsZero() bool {
	return s.Endpoint == ""
}

// User 已注册的身份。ID 即身份标识（小写邮箱）。
type User struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(255)"`
	PasswordHash string       `json:"-" gorm:"type:varchar(255)"`
	LastSeen     time.Time    `json:"last_seen"`
	Subscription Subscription `json:"subscription" gorm:"serializer:json;type:text"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasSubscription 是否已登记推送订阅
func (u *User) HasSubscription() bool {
	return !u.Subscription.IsZero()
}

// Clone 返回副本
func (u *User) Clone() *User {
	c := *u
	return &c
}
