// Package natsnotify carries low-latency "submission enqueued" nudges over
// NATS so idle dispatcher workers wake without polling. The store remains
// the authoritative queue; losing a nudge only costs one poll interval.
package natsnotify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const subject = "judge.submissions.enqueued"

// Nudge is the wake-up payload. Receivers treat it as advisory.
type Nudge struct {
	SubmUuid string `json:"subm_uuid"`
}

type Notifier struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func New(natsURL string, logger *slog.Logger) (*Notifier, error) {
	nc, err := nats.Connect(natsURL, nats.Name("judge-notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Notifier{nc: nc, logger: logger}, nil
}

func (n *Notifier) Close() {
	n.nc.Drain()
}

// Publish announces a freshly enqueued submission. Failures are logged and
// swallowed: the dispatcher's poll ticker covers lost nudges.
func (n *Notifier) Publish(submUuid string) {
	b, err := json.Marshal(Nudge{SubmUuid: submUuid})
	if err != nil {
		n.logger.Error("failed to marshal nudge", "err", err)
		return
	}
	if err := n.nc.Publish(subject, b); err != nil {
		n.logger.Error("failed to publish nudge", "err", err)
	}
}

// Subscribe invokes wake on every nudge until the notifier is closed.
func (n *Notifier) Subscribe(wake func()) error {
	_, err := n.nc.Subscribe(subject, func(msg *nats.Msg) {
		wake()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return nil
}
