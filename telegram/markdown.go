package telegram

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockRe = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingRe   = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe       = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?/?>`)
	newlinesRe  = regexp.MustCompile(`\n{3,}`)
)

var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true, "a": true,
}

// ToTelegramHTML converts markdown to the HTML subset Telegram accepts.
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(html)
}

func cleanHTMLForTelegram(html string) string {
	html = paragraphRe.ReplaceAllString(html, "$1\n")

	html = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "\n",
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	).Replace(html)

	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")
	// Telegram has no headings; render them bold on their own line
	html = headingRe.ReplaceAllString(html, "<b>$1</b>\n")

	// drop every tag Telegram rejects, keeping its content
	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		if m := tagRe.FindStringSubmatch(match); len(m) > 1 && supportedTags[strings.ToLower(m[1])] {
			return match
		}
		return ""
	})

	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
