package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/transferit/transferit/internal/holding"
	"github.com/transferit/transferit/internal/ledger"
	"github.com/transferit/transferit/internal/wallet"
	"github.com/transferit/transferit/pkg/log"
)

// Orchestrator drives one transfer attempt at a time through validation,
// optional receiving-account provisioning and submission. All state is
// mutated under a single mutex; network calls run with the mutex released so
// observers stay responsive while a submission is in flight. The session
// phase guards against a second transfer starting meanwhile.
type Orchestrator struct {
	client  ledger.Client
	wallet  wallet.Connector
	cluster string

	mu             sync.Mutex
	session        session
	selected       *holding.Holding
	amountInput    float64
	recipientInput string
	amountValid    bool
	recipientValid bool
	pending        *pendingProvision
}

// pendingProvision carries the suspended transfer across the
// user-confirmation gap.
type pendingProvision struct {
	request          Request
	sender           solana.PublicKey
	recipient        solana.PublicKey
	receivingAccount solana.PublicKey
}

func NewOrchestrator(client ledger.Client, w wallet.Connector, cluster string) *Orchestrator {
	return &Orchestrator{client: client, wallet: w, cluster: cluster}
}

// SelectHolding stages the source holding for the next transfer.
func (o *Orchestrator) SelectHolding(h holding.Holding) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected = &h
	o.amountValid = o.amountInput > 0 && o.amountInput <= h.Amount
}

// SetAmount stages the transfer amount and refreshes its validity flag.
func (o *Orchestrator) SetAmount(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.amountInput = v
	o.amountValid = o.selected != nil && v > 0 && v <= o.selected.Amount
}

// SetRecipient stages the recipient address and refreshes its validity flag.
func (o *Orchestrator) SetRecipient(address string) {
	o.mu.Lock()
	o.recipientInput = address
	o.mu.Unlock()
	o.ValidateRecipient(address)
}

// ValidateRecipient reports whether address parses and lies on the ed25519
// curve, i.e. is an ordinary account rather than a derived one. Never
// panics; malformed input is simply invalid. Updates the user-visible
// validity flag as a side effect.
func (o *Orchestrator) ValidateRecipient(address string) bool {
	pk, err := solana.PublicKeyFromBase58(address)
	valid := err == nil && pk.IsOnCurve()
	o.mu.Lock()
	o.recipientValid = valid
	o.mu.Unlock()
	return valid
}

// SubmitTransfer builds a request from the staged inputs and initiates it.
func (o *Orchestrator) SubmitTransfer(ctx context.Context) error {
	o.mu.Lock()
	if o.selected == nil {
		o.mu.Unlock()
		return ErrNoHoldingSelected
	}
	req := Request{
		Source:    *o.selected,
		Amount:    o.amountInput,
		Recipient: o.recipientInput,
	}
	o.mu.Unlock()
	return o.InitiateTransfer(ctx, req)
}

// InitiateTransfer validates the request and, when valid, submits it.
// Fungible transfers to a recipient without a receiving account suspend in
// AwaitingProvisionConfirmation instead of submitting; ConfirmProvisioning
// or CancelProvisioning resumes them. Input errors abort before any network
// call and leave the session idle.
func (o *Orchestrator) InitiateTransfer(ctx context.Context, req Request) error {
	o.mu.Lock()

	if o.session.phase != PhaseIdle && !o.session.phase.Terminal() {
		o.mu.Unlock()
		return ErrTransferInFlight
	}

	sender, connected := o.wallet.PublicKey()
	if !connected {
		o.mu.Unlock()
		return ErrNotConnected
	}
	if req.Source == (holding.Holding{}) {
		o.mu.Unlock()
		return ErrNoHoldingSelected
	}

	o.session = session{phase: PhaseValidating, request: req}

	if req.Amount <= 0 || req.Amount > req.Source.Amount {
		o.amountValid = false
		o.session = session{}
		o.mu.Unlock()
		return ErrInsufficientBalance
	}
	o.amountValid = true
	o.mu.Unlock()

	if !o.ValidateRecipient(req.Recipient) {
		o.mu.Lock()
		o.session = session{}
		o.mu.Unlock()
		return ErrInvalidRecipient
	}
	recipient := solana.MustPublicKeyFromBase58(req.Recipient)

	if req.Source.IsNative() {
		return o.submitNative(ctx, sender, recipient, req)
	}
	return o.submitFungible(ctx, sender, recipient, req)
}

// submitNative is terminal: native transfers never involve receiving
// accounts and are not retried.
func (o *Orchestrator) submitNative(ctx context.Context, sender, recipient solana.PublicKey, req Request) error {
	o.setPhase(PhaseSubmitting)
	lamports := holding.ToSmallestUnits(req.Amount, holding.NativeDecimals)
	sig, err := o.submit(ctx, sender, ledger.TransferNative(lamports, sender, recipient))
	if err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrSubmissionRejected, err))
	}
	return o.complete(sig)
}

func (o *Orchestrator) submitFungible(ctx context.Context, sender, recipient solana.PublicKey, req Request) error {
	o.setPhase(PhaseSubmitting)

	receiving, err := o.client.ResolveReceivingAccount(ctx, recipient, req.Source.Mint)
	if errors.Is(err, ledger.ErrReceivingAccountNotFound) {
		o.mu.Lock()
		o.pending = &pendingProvision{
			request:          req,
			sender:           sender,
			recipient:        recipient,
			receivingAccount: receiving,
		}
		o.session.phase = PhaseAwaitingProvisionConfirmation
		o.mu.Unlock()
		log.Transfer.Info().Stringer("recipient", recipient).Msg("receiving account missing, awaiting user confirmation")
		return nil
	}
	if err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrSubmissionRejected, err))
	}

	units := holding.ToSmallestUnits(req.Amount, req.Source.Decimals)
	sig, err := o.submit(ctx, sender, ledger.TransferToken(units, req.Source.Account, receiving, sender))
	if err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrSubmissionRejected, err))
	}
	return o.complete(sig)
}

// ConfirmProvisioning resumes a suspended transfer: it submits the
// receiving-account creation, waits for that transaction to confirm, and
// only then retries the transfer itself. The two submissions never
// interleave.
func (o *Orchestrator) ConfirmProvisioning(ctx context.Context) error {
	o.mu.Lock()
	if o.session.phase != PhaseAwaitingProvisionConfirmation || o.pending == nil {
		o.mu.Unlock()
		return ErrNoPendingProvision
	}
	p := *o.pending
	o.pending = nil
	o.session.phase = PhaseProvisionSubmitting
	o.mu.Unlock()

	mint := p.request.Source.Mint
	provisionSig, err := o.submit(ctx, p.sender, ledger.CreateReceivingAccount(p.sender, p.recipient, mint))
	if err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrProvisioningFailed, err))
	}
	if err := o.client.AwaitConfirmation(ctx, provisionSig); err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrProvisioningFailed, err))
	}

	o.mu.Lock()
	o.session.provisionSignature = provisionSig
	o.session.phase = PhaseSubmitting
	o.mu.Unlock()

	units := holding.ToSmallestUnits(p.request.Amount, p.request.Source.Decimals)
	sig, err := o.submit(ctx, p.sender, ledger.TransferToken(units, p.request.Source.Account, p.receivingAccount, p.sender))
	if err != nil {
		return o.fail(fmt.Errorf("%w: %w", ErrSubmissionRejected, err))
	}
	return o.complete(sig)
}

// CancelProvisioning abandons a suspended transfer without submitting
// anything and returns the session to idle.
func (o *Orchestrator) CancelProvisioning() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.phase != PhaseAwaitingProvisionConfirmation {
		return ErrNoPendingProvision
	}
	o.pending = nil
	o.session = session{}
	return nil
}

// DismissResult clears a terminal session so a new transfer can be staged.
func (o *Orchestrator) DismissResult() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session.phase.Terminal() {
		o.session = session{}
	}
}

// Snapshot returns the presentation-facing view of the orchestrator.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	snap := Snapshot{
		Phase:              o.session.phase,
		Request:            o.session.request,
		AmountValid:        o.amountValid,
		RecipientValid:     o.recipientValid,
		Signature:          o.session.signature,
		ProvisionSignature: o.session.provisionSignature,
		Err:                o.session.err,
	}
	if o.session.phase == PhaseCompleted {
		snap.ExplorerURL = ledger.ExplorerURL(o.session.signature, o.cluster)
	}
	return snap
}

// submit assembles, signs and relays a single-instruction transaction.
// Panics out of the ledger or wallet layers are downgraded to errors so the
// presentation layer never sees an unhandled fault.
func (o *Orchestrator) submit(ctx context.Context, payer solana.PublicKey, ix solana.Instruction) (sig solana.Signature, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submission panic: %v", r)
		}
	}()

	tx, err := o.client.NewTransaction(ctx, payer, ix)
	if err != nil {
		return solana.Signature{}, err
	}
	return o.wallet.SendTransaction(ctx, tx)
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.session.phase = p
	o.mu.Unlock()
}

func (o *Orchestrator) complete(sig solana.Signature) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.phase = PhaseCompleted
	o.session.signature = sig
	log.Transfer.Info().Stringer("signature", sig).Msg("transfer completed")
	return nil
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session.phase = PhaseFailed
	o.session.err = err
	log.Transfer.Warn().Err(err).Msg("transfer failed")
	return err
}
