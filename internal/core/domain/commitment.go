package domain

import "fmt"

// Commitment is the Solana confirmation level attached to queries and
// subscriptions.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// DefaultCommitment is used whenever a request does not carry its own level.
const DefaultCommitment = CommitmentConfirmed

// ParseCommitment validates a configured commitment string. Empty input maps
// to the default.
func ParseCommitment(s string) (Commitment, error) {
	switch Commitment(s) {
	case "":
		return DefaultCommitment, nil
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return Commitment(s), nil
	default:
		return "", fmt.Errorf("unknown commitment %q", s)
	}
}

// AtLeast reports whether c is at or beyond the confirmation depth of other.
// Ordering: processed < confirmed < finalized.
func (c Commitment) AtLeast(other Commitment) bool {
	return c.depth() >= other.depth()
}

func (c Commitment) depth() int {
	switch c {
	case CommitmentProcessed:
		return 0
	case CommitmentConfirmed:
		return 1
	case CommitmentFinalized:
		return 2
	default:
		return -1
	}
}

func (c Commitment) String() string {
	return string(c)
}
