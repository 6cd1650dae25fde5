// Package alert は求人アラートのコアロジックを提供する。
// 購読ライフサイクル（登録・確認・配信停止）、ダイジェストメールの組み立て、
// 全アラートを走査するバッチランナーを含む。
package alert

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mkondo/jobalerts/internal/mail"
	"github.com/mkondo/jobalerts/internal/model"
)

// closingSoonWindow は「まもなく掲載終了」バナーの対象となるウィンドウ。
const closingSoonWindow = 7 * 24 * time.Hour

// Composer は検索ヒットからダイジェストメールを組み立てる。
// I/Oを行わない純粋なコンポーネントであり、現在時刻はテスト用に差し替え可能。
type Composer struct {
	policy      *bluemonday.Policy
	baseURL     string
	frontendURL string
	now         func() time.Time
}

// NewComposer はComposerを生成する。
// カタログ由来の文字列はStrictPolicyでサニタイズし、
// タグをすべて除去した安全なテキストのみをメールHTMLへ埋め込む。
func NewComposer(baseURL, frontendURL string) *Composer {
	return &Composer{
		policy:      bluemonday.StrictPolicy(),
		baseURL:     strings.TrimRight(baseURL, "/"),
		frontendURL: strings.TrimRight(frontendURL, "/"),
		now:         time.Now,
	}
}

// UnsubscribeURL はアラートの配信停止リンクを返す。
func (c *Composer) UnsubscribeURL(token string) string {
	return c.baseURL + "/api/jobs/unsubscribe/" + url.PathEscape(token)
}

// ConfirmURL はアラートの購読確認リンクを返す。
func (c *Composer) ConfirmURL(token string) string {
	return c.baseURL + "/api/jobs/confirm/" + url.PathEscape(token)
}

// Compose は新着ヒット一覧からダイジェストメール1通を組み立てる。
// totalMatchedはカーソル境界以降に合致した総数（ページサイズ超過分を含む）、
// totalCatalogはカタログ全体の求人数（0の場合は統計行を省略する）。
func (c *Composer) Compose(a *model.JobAlert, hits []model.JobHit, totalMatched, totalCatalog int) *mail.Message {
	now := c.now()

	var b strings.Builder

	query := a.SearchResultsQuery()
	resultsURL := c.frontendURL
	if query != "" {
		resultsURL += "/?" + query
	}
	b.WriteString(fmt.Sprintf("<p><a href=%q>Link to your search results</a>.</p>\n", resultsURL))

	if closingSoon(hits, now) {
		b.WriteString("<p><strong>Some of these roles close within 7 days, so apply soon.</strong></p>\n")
	}

	b.WriteString("<p>New matched jobs:</p>\n<ul>\n")
	for _, h := range hits {
		title := c.policy.Sanitize(h.Title)
		company := c.policy.Sanitize(h.CompanyName)
		label := title
		if company != "" {
			label = title + " at " + company
		}
		if link, ok := safeLink(h.URLExternal); ok {
			b.WriteString(fmt.Sprintf("<li><a href=%q>%s</a></li>\n", link, label))
		} else {
			b.WriteString(fmt.Sprintf("<li>%s</li>\n", label))
		}
	}
	b.WriteString("</ul>\n")

	if totalMatched > len(hits) {
		b.WriteString(fmt.Sprintf(
			"<p>Showing %d of %d new matches. The remaining roles will arrive in your next digest.</p>\n",
			len(hits), totalMatched,
		))
	}
	if totalCatalog > 0 {
		b.WriteString(fmt.Sprintf("<p>There are currently %d jobs listed in total.</p>\n", totalCatalog))
	}

	b.WriteString(fmt.Sprintf("<p><a href=%q>Unsubscribe</a></p>\n", c.UnsubscribeURL(a.UnsubscribeToken)))

	html := b.String()
	return &mail.Message{
		To:      a.Email,
		Subject: fmt.Sprintf("New Jobs Alert: %d new %s", len(hits), pluralize("match", len(hits))),
		HTML:    html,
		Text:    mail.HTMLToText(html),
	}
}

// ComposeConfirmation は購読確認メールを組み立てる。
// requireConfirmationがtrueの場合は確認リンクを踏むまで配信されない旨を案内する。
func (c *Composer) ComposeConfirmation(email, token string, requireConfirmation bool) *mail.Message {
	var b strings.Builder
	b.WriteString("<p>Your job alert has been created.</p>\n")
	if requireConfirmation {
		b.WriteString(fmt.Sprintf(
			"<p><a href=%q>Confirm your subscription</a> to start receiving digests.</p>\n",
			c.ConfirmURL(token),
		))
	} else {
		b.WriteString("<p>You will receive an email digest whenever new jobs match your search.</p>\n")
		b.WriteString(fmt.Sprintf(
			"<p><a href=%q>Confirm your subscription</a> to let us know this address is yours.</p>\n",
			c.ConfirmURL(token),
		))
	}
	b.WriteString(fmt.Sprintf("<p><a href=%q>Unsubscribe</a></p>\n", c.UnsubscribeURL(token)))

	html := b.String()
	return &mail.Message{
		To:      email,
		Subject: "Confirm your job alert",
		HTML:    html,
		Text:    mail.HTMLToText(html),
	}
}

// closingSoon はいずれかのヒットが7日以内に掲載終了となるかを返す。
func closingSoon(hits []model.JobHit, now time.Time) bool {
	for i := range hits {
		if hits[i].ClosesWithin(now, closingSoonWindow) {
			return true
		}
	}
	return false
}

// safeLink は外部URLがhttp/httpsスキームの絶対URLである場合のみリンクとして許可する。
func safeLink(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

func pluralize(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "es"
}
