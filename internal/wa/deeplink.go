package wa

import (
	"net/url"
	"strings"
)

// DeepLink builds a wa.me compose link to phone pre-filled with text. It works
// without any API credentials.
func DeepLink(phone, text string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	link := "https://wa.me/" + digits.String()
	if text != "" {
		link += "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	}
	return link
}
