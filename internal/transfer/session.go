package transfer

import (
	"github.com/gagliardetto/solana-go"

	"github.com/transferit/transferit/internal/holding"
)

// Phase is the state of the current transfer session.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseAwaitingProvisionConfirmation
	PhaseProvisionSubmitting
	PhaseSubmitting
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseAwaitingProvisionConfirmation:
		return "awaiting-provision-confirmation"
	case PhaseProvisionSubmitting:
		return "provision-submitting"
	case PhaseSubmitting:
		return "submitting"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session reached an end state. A new transfer
// may start once the session is idle or terminal.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Request is one user-authored transfer intent.
type Request struct {
	Source    holding.Holding
	Amount    float64
	Recipient string
}

// session is the orchestrator's run-time state for one transfer attempt.
type session struct {
	phase              Phase
	request            Request
	signature          solana.Signature
	provisionSignature solana.Signature
	err                error
}

// Snapshot is the presentation-facing view of the orchestrator: session
// phase, staged-input validity flags and, once available, the tracking
// references of submitted transactions.
type Snapshot struct {
	Phase              Phase
	Request            Request
	AmountValid        bool
	RecipientValid     bool
	Signature          solana.Signature
	ProvisionSignature solana.Signature
	ExplorerURL        string
	Err                error
}
