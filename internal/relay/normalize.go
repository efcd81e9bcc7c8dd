package relay

import (
	"net/url"
	"strings"
)

// singleMarker is the query parameter the Telegram web client appends when a
// single message of an album is copied. Two links differing only by it are
// the same job.
const singleMarker = "single"

// Normalize canonicalizes a job identifier so equivalent submissions
// collide. It strips a trailing " - metadata" suffix, removes the single
// marker from the query, and cleans dangling separator punctuation. The
// function is idempotent and never fails: unparseable input is returned
// trimmed but otherwise unchanged.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, " - "); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return s
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return stripMarkerText(s)
	}
	q := u.Query()
	if _, ok := q[singleMarker]; ok {
		q.Del(singleMarker)
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false
	return u.String()
}

// stripMarkerText removes the marker from input that does not parse as an
// absolute URL, then trims any separator left dangling.
func stripMarkerText(s string) string {
	s = strings.ReplaceAll(s, "?"+singleMarker+"&", "?")
	s = strings.ReplaceAll(s, "&"+singleMarker, "")
	s = strings.ReplaceAll(s, "?"+singleMarker, "")
	return strings.TrimRight(s, "?&")
}
