package mail

import (
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

// SMTPMailer はSMTP経由でメールを送信するMailer実装。
// usernameが空の場合は認証なしで送信する（ローカルリレー向け）。
type SMTPMailer struct {
	addr     string // host:port
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(addr, username, password, from string, timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{
		addr:     addr,
		username: username,
		password: password,
		from:     from,
		timeout:  timeout,
	}
}

// Send はメッセージをmultipart/alternative形式で1通送信する。
// 接続と送信全体にタイムアウトを適用し、無期限にブロックしない。
// 本実装は再送を行わない。
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.DialTimeout("tcp", m.addr, m.timeout)
	if err != nil {
		return fmt.Errorf("SMTPサーバーへの接続に失敗しました: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("送信期限の設定に失敗しました: %w", err)
	}

	host, _, err := net.SplitHostPort(m.addr)
	if err != nil {
		return fmt.Errorf("SMTPアドレスの解析に失敗しました: %w", err)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("SMTPクライアントの作成に失敗しました: %w", err)
	}
	defer c.Close()

	if m.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.username, m.password, host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("SMTP認証に失敗しました: %w", err)
			}
		}
	}

	if err := c.Mail(m.from); err != nil {
		return fmt.Errorf("MAIL FROMに失敗しました: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TOに失敗しました: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATAの開始に失敗しました: %w", err)
	}

	body, err := buildMIME(m.from, msg)
	if err != nil {
		return fmt.Errorf("メール本文の組み立てに失敗しました: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("メール本文の書き込みに失敗しました: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("メール本文の送信確定に失敗しました: %w", err)
	}

	return c.Quit()
}

// buildMIME はヘッダー付きのmultipart/alternativeメッセージを組み立てる。
// テキストパートを先、HTMLパートを後に配置する（後のパートが優先表示される）。
func buildMIME(from string, msg *Message) ([]byte, error) {
	var b strings.Builder
	var body strings.Builder

	mw := multipart.NewWriter(&body)

	textPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(msg.Text)); err != nil {
		return nil, err
	}

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(msg.HTML)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("UTF-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=" + mw.Boundary() + "\r\n")
	b.WriteString("\r\n")
	b.WriteString(body.String())

	return []byte(b.String()), nil
}
