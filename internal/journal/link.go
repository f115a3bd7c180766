package journal

import (
	"regexp"
	"strings"
)

var linkPart = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseLinkHeader parses a Link header of the form
// `<url>; rel="name", <url>; rel="other"` into a name to url map.
// Parts that do not match are ignored. A later rel overrides an earlier one.
func ParseLinkHeader(header string) map[string]string {
	links := map[string]string{}
	if header == "" {
		return links
	}
	for _, part := range strings.Split(header, ",") {
		m := linkPart.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		links[m[2]] = m[1]
	}
	return links
}
