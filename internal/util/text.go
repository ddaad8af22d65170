package util

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// ExtractText reduces an inbound message body to plain text. Bodies that look
// like HTML (email channel) are tokenized and only visible text is kept.
func ExtractText(body string) string {
	if !looksLikeHTML(body) {
		return collapseSpaces(body)
	}
	z := html.NewTokenizer(strings.NewReader(body))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return collapseSpaces(sb.String())
			}
			return collapseSpaces(body)
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "li", "tr":
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "tr":
				sb.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				sb.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range []string{"<html", "<body", "<div", "<p>", "<p ", "<br", "<span", "<table"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// collapseSpaces trims each line and drops runs of blank lines.
func collapseSpaces(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
