package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deadswitch/backend/internal/config"
	"deadswitch/backend/internal/domain"
)

// sendMailFunc 与 smtp.SendMail 签名一致
type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// MailPusher 把通知作为纯文本邮件发送到用户的身份邮箱
type MailPusher struct {
	cfg  config.SMTPConfig
	send sendMailFunc
	now  func() time.Time
	log  *zap.Logger
}

// NewMailPusher 创建邮件通道
func NewMailPusher(cfg config.SMTPConfig, log *zap.Logger) *MailPusher {
	return &MailPusher{
		cfg:  cfg,
		send: smtp.SendMail,
		now:  time.Now,
		log:  log,
	}
}

// Push 发送邮件
func (p *MailPusher) Push(ctx context.Context, user *domain.User, n domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth sasl.Client
	if p.cfg.Username != "" {
		auth = sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
	}

	body := p.compose(user.ID, n)
	if err := p.send(p.cfg.Addr, auth, p.cfg.From, []string{user.ID}, bytes.NewReader(body)); err != nil {
		return deliveryError("smtp", err)
	}

	p.log.Debug("mail delivered",
		zap.String("user", user.ID),
		zap.String("tag", string(n.Tag)))
	return nil
}

func (p *MailPusher) compose(to string, n domain.Notification) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", n.Title))
	fmt.Fprintf(&buf, "Date: %s\r\n", p.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@deadswitch>\r\n", uuid.NewString())
	fmt.Fprintf(&buf, "X-Deadswitch-Tag: %s\r\n", n.Tag)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(n.Message)
	buf.WriteString("\r\n")
	if n.MessageID != "" {
		fmt.Fprintf(&buf, "\r\nMessage: %s\r\n", n.MessageID)
	}
	return buf.Bytes()
}
