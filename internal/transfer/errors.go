package transfer

import "errors"

// Error taxonomy surfaced to the presentation layer. A missing receiving
// account is deliberately absent here: it is a recoverable condition modeled
// as the AwaitingProvisionConfirmation phase, not a terminal error.
var (
	ErrNotConnected        = errors.New("no wallet connected")
	ErrNoHoldingSelected   = errors.New("no holding selected")
	ErrInsufficientBalance = errors.New("amount exceeds available balance")
	ErrInvalidRecipient    = errors.New("recipient is not a valid on-curve address")
	ErrSubmissionRejected  = errors.New("transaction submission rejected")
	ErrProvisioningFailed  = errors.New("receiving account provisioning failed")
	ErrTransferInFlight    = errors.New("another transfer is already in flight")
	ErrNoPendingProvision  = errors.New("no provisioning decision pending")
)
