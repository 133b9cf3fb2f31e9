package chat

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Message for records failed by the reconciler after its attempt budget.
const timedOutMessage = "generation timed out"
