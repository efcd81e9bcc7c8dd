// Package classify turns the forwarding tool's human-readable output lines
// into signals. The tool has no structured output contract, so matching is
// by known substrings; keeping all of it here makes the brittle part
// swappable and testable in isolation.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/relayq/relayq/internal/relay"
)

// Reason tags recorded in the failed log, taken verbatim from tool output
// conditions.
const (
	TagMessageDeleted  = "MESSAGE_DELETED"
	TagInvalidMessage  = "INVALID_MESSAGE"
	TagChatIDInvalid   = "CHAT_ID_INVALID"
	TagUsernameInvalid = "USERNAME_INVALID"
)

var (
	percentPattern    = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)
	etaPattern        = regexp.MustCompile(`(?i)\beta[:\s]*([0-9][^\s;\]]*)`)
	throughputPattern = regexp.MustCompile(`(\d+(?:\.\d+)?\s?[KMGT]?i?B/s)`)
)

// LineClassifier implements relay.Classifier with substring matching.
type LineClassifier struct{}

// New returns a LineClassifier.
func New() *LineClassifier {
	return &LineClassifier{}
}

// Classify maps one output line to a Signal. Terminal markers win over the
// generic error marker; progress lines must carry a percentage.
func (LineClassifier) Classify(line string) relay.Signal {
	switch {
	case strings.Contains(line, "may be deleted"):
		return relay.Signal{Kind: relay.SignalDeleted, ReasonTag: TagMessageDeleted}
	case strings.Contains(line, "invalid message"):
		return relay.Signal{Kind: relay.SignalInvalid, ReasonTag: TagInvalidMessage}
	case strings.Contains(line, TagChatIDInvalid):
		return relay.Signal{Kind: relay.SignalInvalid, ReasonTag: TagChatIDInvalid}
	case strings.Contains(line, TagUsernameInvalid):
		return relay.Signal{Kind: relay.SignalInvalid, ReasonTag: TagUsernameInvalid}
	case strings.Contains(line, "Error"):
		return relay.Signal{Kind: relay.SignalError}
	}
	if m := percentPattern.FindStringSubmatch(line); m != nil {
		percent, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return relay.Signal{}
		}
		p := relay.Progress{Percent: percent}
		if eta := etaPattern.FindStringSubmatch(line); eta != nil {
			p.ETA = eta[1]
		}
		if tp := throughputPattern.FindStringSubmatch(line); tp != nil {
			p.Throughput = tp[1]
		}
		return relay.Signal{Kind: relay.SignalProgress, Progress: p}
	}
	return relay.Signal{}
}

var _ relay.Classifier = (*LineClassifier)(nil)

// Run accumulates signals across one tool invocation. Deleted and invalid
// markers are sticky and outrank the soft error flag no matter which line
// they appear on.
type Run struct {
	classifier relay.Classifier
	errorSeen  bool
	deleted    bool
	invalid    bool
	deletedTag string
	invalidTag string
}

// NewRun starts an accumulator over the given classifier.
func NewRun(c relay.Classifier) *Run {
	return &Run{classifier: c}
}

// Observe classifies one line, folds it into the run state, and returns a
// progress update when the line carried one.
func (r *Run) Observe(line string) (relay.Progress, bool) {
	sig := r.classifier.Classify(line)
	switch sig.Kind {
	case relay.SignalDeleted:
		r.deleted = true
		if r.deletedTag == "" {
			r.deletedTag = sig.ReasonTag
		}
	case relay.SignalInvalid:
		r.invalid = true
		if r.invalidTag == "" {
			r.invalidTag = sig.ReasonTag
		}
	case relay.SignalError:
		r.errorSeen = true
	case relay.SignalProgress:
		return sig.Progress, true
	}
	return relay.Progress{}, false
}

// Resolve folds the accumulated flags and the exit code into the terminal
// outcome: invalid outranks deleted outranks generic failure.
func (r *Run) Resolve(exitCode int) (relay.FailReason, string, bool) {
	switch {
	case r.invalid:
		return relay.FailInvalid, r.invalidTag, false
	case r.deleted:
		return relay.FailDeleted, r.deletedTag, false
	case exitCode != 0 || r.errorSeen:
		return relay.FailGeneric, "", false
	default:
		return "", "", true
	}
}
