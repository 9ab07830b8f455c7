// Package tracklinks rewrites outbound hyperlinks in a rendered email body
// so clicks pass through the tracking redirect, and appends the open
// tracking pixel. The two URL shapes
//
//	{base}/track/click/{trackingID}/{index}
//	{base}/track/open/{trackingID}
//
// are a stable interface: already-delivered mail keeps pointing at them.
package tracklinks

import (
	"fmt"
	"regexp"
	"strings"
)

// Link is one rewritten anchor, index is 1-based in document order.
type Link struct {
	Index       int
	OriginalURL string
}

// hrefRe matches the href attribute of an anchor tag, case-insensitively,
// with single- or double-quoted values. The first quoted value wins;
// nested or malformed quoting is not specially handled.
var hrefRe = regexp.MustCompile(`(?is)(<a\b[^>]*?\bhref\s*=\s*)("([^"]*)"|'([^']*)')`)

// Rewrite replaces every anchor href with a click-tracking redirect and
// returns the original destinations keyed by index. Anchor content is left
// untouched. HTML with no anchors comes back unchanged with an empty list.
func Rewrite(html, trackingID, baseURL string) (string, []Link) {
	var links []Link
	out := hrefRe.ReplaceAllStringFunc(html, func(m string) string {
		sub := hrefRe.FindStringSubmatch(m)
		quote := string(sub[2][0])
		original := sub[3]
		if quote == "'" {
			original = sub[4]
		}
		idx := len(links) + 1
		links = append(links, Link{Index: idx, OriginalURL: original})
		redirect := fmt.Sprintf("%s/track/click/%s/%d", strings.TrimRight(baseURL, "/"), trackingID, idx)
		return sub[1] + quote + redirect + quote
	})
	return out, links
}

// AppendPixel tacks the 1x1 open-tracking image onto the body, then the
// sender's signature with newlines converted to line breaks. Order is
// fixed: body, pixel, signature.
func AppendPixel(html, trackingID, baseURL, signature string) string {
	var b strings.Builder
	b.WriteString(html)
	fmt.Fprintf(&b, `<img src="%s/track/open/%s" width="1" height="1" style="display:none;" alt=""/>`,
		strings.TrimRight(baseURL, "/"), trackingID)
	if strings.TrimSpace(signature) != "" {
		b.WriteString("<br/><br/>")
		b.WriteString(strings.ReplaceAll(signature, "\n", "<br/>"))
	}
	return b.String()
}
