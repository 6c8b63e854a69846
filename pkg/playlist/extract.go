// Package playlist turns pasted playlist and header text into a download request.
package playlist

import (
	"regexp"
	"strings"
)

var (
	segmentRe = regexp.MustCompile(`https://.+?\.ts`)
	headerRe  = regexp.MustCompile(`(.+?):\s(.+)`)
)

// ExtractSegmentURLs scans playlist text for .ts segment URLs, in source order.
// It is not an M3U8 parser: any https URL up to the first ".ts" on a line matches.
func ExtractSegmentURLs(text string) []string {
	matches := segmentRe.FindAllString(text, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

// ParseHeaderBlock parses a header block copied from browser dev tools, where
// every name sits on its own line followed by its value:
//
//	Referer:
//	https://server.net/
//
// Keys are lowercased. Lines that don't form a "key:\nvalue" pair are ignored.
func ParseHeaderBlock(text string) map[string]string {
	headers := make(map[string]string)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	for _, match := range headerRe.FindAllString(text, -1) {
		parts := strings.SplitN(match, ":\n", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.Replace(strings.ToLower(parts[0]), ":", "", 1)
		key = strings.TrimSpace(key)
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		headers[key] = value
	}

	return headers
}
