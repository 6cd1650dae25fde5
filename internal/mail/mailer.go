// Package mail はダイジェストメールの表現と送信トランスポートを提供する。
// 送信はMailerインターフェースの背後に隠し、リトライ方針は外部の
// メールトランスポートに委ねる（本パッケージ内では再送しない）。
package mail

import (
	"context"
	"strings"
)

// Message は送信するメール1通を表す。
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer はメール送信のインターフェース。
// 送信失敗はエラーとして返し、呼び出し元が失敗としてカウントする。
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// HTMLToText はHTML本文からプレーンテキスト版を導出する。
// multipart/alternativeのテキストパートとして使用する。
// ブロック要素の終端を改行へ置き換えた上でタグを除去する。
func HTMLToText(html string) string {
	replacer := strings.NewReplacer(
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"</p>", "\n\n", "</li>", "\n", "</ul>", "\n", "</h1>", "\n", "</h2>", "\n",
	)
	s := replacer.Replace(html)

	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	// 連続する空白行を詰める
	lines := strings.Split(b.String(), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimRight(strings.Join(out, "\n"), "\n")
}
