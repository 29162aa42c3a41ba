package enums

// OutboxStatus tracks an event through the publisher state machine.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusSent       OutboxStatus = "sent"
	OutboxStatusFailed     OutboxStatus = "failed"
	OutboxStatusDeadLetter OutboxStatus = "dead_letter"
)

var outboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusProcessing,
	OutboxStatusSent,
	OutboxStatusFailed,
	OutboxStatusDeadLetter,
}

// OutboxStatuses returns every status in state-machine order.
func OutboxStatuses() []OutboxStatus {
	out := make([]OutboxStatus, len(outboxStatuses))
	copy(out, outboxStatuses)
	return out
}

// IsTerminal reports whether no further transition may leave this status.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusDeadLetter
}

// CanTransitionTo reports whether the publisher may move a row from s to next.
// The repository checks it before every lease-holder update.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OutboxStatusPending:
		return next == OutboxStatusProcessing
	case OutboxStatusProcessing:
		return next == OutboxStatusSent ||
			next == OutboxStatusPending ||
			next == OutboxStatusFailed ||
			next == OutboxStatusDeadLetter
	case OutboxStatusFailed:
		return next == OutboxStatusPending || next == OutboxStatusDeadLetter
	}
	return false
}
