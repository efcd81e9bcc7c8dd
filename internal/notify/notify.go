// Package notify ships Notifier implementations for the reply boundary.
// The chat front-end that actually delivers messages is an external
// collaborator; the default implementations here log or record replies.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/relay"
)

// LogNotifier writes replies to the structured log. It is the default when
// no chat front-end is wired in.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the reply with its routing fields.
func (n *LogNotifier) Notify(_ context.Context, origin relay.Origin, text string) error {
	n.logger.Info("reply",
		zap.Int64("chat_id", origin.ChatID),
		zap.Int64("message_id", origin.MessageID),
		zap.String("text", text),
	)
	return nil
}

// Recorded is one captured reply.
type Recorded struct {
	Origin relay.Origin
	Text   string
}

// Recorder captures replies for tests. Err, when set, is returned from
// every Notify call.
type Recorder struct {
	mu      sync.Mutex
	Err     error
	replies []Recorded
}

// Notify records the reply.
func (r *Recorder) Notify(_ context.Context, origin relay.Origin, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.replies = append(r.replies, Recorded{Origin: origin, Text: text})
	return nil
}

// Replies returns the captured replies in order.
func (r *Recorder) Replies() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.replies))
	copy(out, r.replies)
	return out
}

var (
	_ relay.Notifier = (*LogNotifier)(nil)
	_ relay.Notifier = (*Recorder)(nil)
)
