package format

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

// Telegram's HTML parse mode accepts only this tag set. Everything else
// is stripped, equivalents are renamed first.
var allowedTags = []string{"b", "i", "u", "s", "code", "pre", "a"}

var (
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)

	strongRe = regexp.MustCompile(`(?i)<(/?)strong>`)
	emRe     = regexp.MustCompile(`(?i)<(/?)em>`)
	insRe    = regexp.MustCompile(`(?i)<(/?)ins>`)
	strikeRe = regexp.MustCompile(`(?i)<(/?)strike>`)
	delRe    = regexp.MustCompile(`(?i)<(/?)del>`)

	anchorOpenRe = regexp.MustCompile(`(?i)<a[^>]*>`)
	hrefRe       = regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)

	anyTagRe     = regexp.MustCompile(`<[^>]+>`)
	allowedTagRe = regexp.MustCompile(`(?i)^(</?(?:b|i|u|s|code|pre|a)>|<a href="[^"]*">)$`)

	tagTokenRe = regexp.MustCompile(`(?i)<(/?)([a-z]+)(?:\s[^>]*)?>`)

	spacesRe   = regexp.MustCompile(`[ \t]+`)
	newlinesRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

var hrefEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Sanitize rewrites arbitrary HTML into the restricted form Telegram
// accepts. The result uses only the allowed tag set, every opened tag is
// closed, and sanitizing already-sanitized text is a no-op.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}

	text = commentRe.ReplaceAllString(text, "")
	text = scriptRe.ReplaceAllString(text, "")
	text = styleRe.ReplaceAllString(text, "")

	text = strongRe.ReplaceAllString(text, "<${1}b>")
	text = emRe.ReplaceAllString(text, "<${1}i>")
	text = insRe.ReplaceAllString(text, "<${1}u>")
	text = strikeRe.ReplaceAllString(text, "<${1}s>")
	text = delRe.ReplaceAllString(text, "<${1}s>")

	text = anchorOpenRe.ReplaceAllStringFunc(text, cleanAnchor)
	text = removeOrphanClosing(text, "a")

	// Strip attributes from the remaining allowed tags.
	for _, tag := range allowedTags {
		if tag == "a" {
			continue
		}
		openRe := regexp.MustCompile(`(?i)<` + tag + `[^>]*>`)
		closeRe := regexp.MustCompile(`(?i)</` + tag + `[^>]*>`)
		text = openRe.ReplaceAllString(text, "<"+tag+">")
		text = closeRe.ReplaceAllString(text, "</"+tag+">")
	}

	// Park the allowed tags behind placeholders so entity escaping only
	// touches text content; disallowed tags are dropped here.
	var parked []string
	text = anyTagRe.ReplaceAllStringFunc(text, func(tag string) string {
		if allowedTagRe.MatchString(tag) {
			parked = append(parked, tag)
			return fmt.Sprintf("\x00TAG%d\x00", len(parked)-1)
		}
		return ""
	})

	// Unescape first so pre-existing entities are not escaped twice.
	text = html.EscapeString(html.UnescapeString(text))

	for i, tag := range parked {
		text = strings.Replace(text, fmt.Sprintf("\x00TAG%d\x00", i), tag, 1)
	}

	text = balanceTags(text)

	text = spacesRe.ReplaceAllString(text, " ")
	text = newlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// cleanAnchor rewrites an opening <a> tag to carry only a safely escaped
// href. The href is unescaped before re-escaping so repeated passes do
// not stack &amp; prefixes.
func cleanAnchor(tag string) string {
	m := hrefRe.FindStringSubmatch(tag)
	if m == nil {
		return "<a>"
	}
	href := hrefEscaper.Replace(html.UnescapeString(m[1]))
	return `<a href="` + href + `">`
}

// removeOrphanClosing deletes closing tags of the given name that have
// no matching earlier opening tag.
func removeOrphanClosing(text, tag string) string {
	openRe := regexp.MustCompile(`(?i)<` + tag + `(\s[^>]*)?>`)
	closeRe := regexp.MustCompile(`(?i)</` + tag + `>`)

	type span struct {
		start, end int
		closing    bool
	}
	var spans []span
	for _, loc := range openRe.FindAllStringIndex(text, -1) {
		spans = append(spans, span{loc[0], loc[1], false})
	}
	for _, loc := range closeRe.FindAllStringIndex(text, -1) {
		spans = append(spans, span{loc[0], loc[1], true})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var orphans []span
	open := 0
	for _, s := range spans {
		if !s.closing {
			open++
		} else if open > 0 {
			open--
		} else {
			orphans = append(orphans, s)
		}
	}
	for i := len(orphans) - 1; i >= 0; i-- {
		text = text[:orphans[i].start] + text[orphans[i].end:]
	}
	return text
}

// balanceTags repairs nesting: a closing tag first closes anything
// opened after its match, unmatched closing tags are dropped, and tags
// still open at the end are closed. Anchors were already paired up by
// removeOrphanClosing and pass through untouched.
func balanceTags(text string) string {
	paired := map[string]bool{"b": true, "i": true, "u": true, "s": true, "code": true, "pre": true}

	matches := tagTokenRe.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var out strings.Builder
	var stack []string
	last := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		closing := m[3] > m[2]
		name := strings.ToLower(text[m[4]:m[5]])

		if !paired[name] && name != "a" {
			continue
		}
		out.WriteString(text[last:start])
		last = end

		switch {
		case name == "a":
			out.WriteString(text[start:end])
		case !closing:
			stack = append(stack, name)
			out.WriteString(text[start:end])
		default:
			matched := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == name {
					matched = i
					break
				}
			}
			if matched < 0 {
				continue
			}
			for len(stack) > matched+1 {
				out.WriteString("</" + stack[len(stack)-1] + ">")
				stack = stack[:len(stack)-1]
			}
			stack = stack[:len(stack)-1]
			out.WriteString(text[start:end])
		}
	}

	out.WriteString(text[last:])
	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString("</" + stack[i] + ">")
	}
	return out.String()
}
