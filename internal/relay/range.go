package relay

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultRangeLimit caps how many identifiers a range shorthand may expand
// to before it is rejected as pathological.
const DefaultRangeLimit = 1000

// rangeLink matches a Telegram message link ending in a numeric suffix,
// capturing the common prefix and the message number.
var rangeLink = regexp.MustCompile(`^(https?://t\.me/\S+/)(\d+)$`)

// ExpandRange parses the "<first-url> - <last-url>" shorthand into the
// inclusive ascending sequence of identifiers it denotes. It returns nil
// when the input is not a range: wrong shape, sides with different
// prefixes, a descending span, or a span wider than limit. Callers fall
// back to line-by-line single-URL parsing on nil.
func ExpandRange(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultRangeLimit
	}
	parts := strings.Split(strings.TrimSpace(text), " - ")
	if len(parts) != 2 {
		return nil
	}
	first := rangeLink.FindStringSubmatch(strings.TrimSpace(parts[0]))
	last := rangeLink.FindStringSubmatch(strings.TrimSpace(parts[1]))
	if first == nil || last == nil || first[1] != last[1] {
		return nil
	}
	start, err := strconv.Atoi(first[2])
	if err != nil {
		return nil
	}
	end, err := strconv.Atoi(last[2])
	if err != nil {
		return nil
	}
	if start > end || end-start+1 > limit {
		return nil
	}
	ids := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		ids = append(ids, first[1]+strconv.Itoa(n))
	}
	return ids
}
