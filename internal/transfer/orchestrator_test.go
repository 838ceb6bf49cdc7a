package transfer_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/transferit/transferit/internal/holding"
	"github.com/transferit/transferit/internal/ledger"
	"github.com/transferit/transferit/internal/testutils"
	"github.com/transferit/transferit/internal/transfer"
	"github.com/transferit/transferit/internal/wallet"
)

type ledgerClientMock struct {
	mock.Mock
}

func (m *ledgerClientMock) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	args := m.MethodCalled("NativeBalance", ctx, owner)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *ledgerClientMock) TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]ledger.TokenAccount, error) {
	args := m.MethodCalled("TokenAccountsByOwner", ctx, owner)
	return args.Get(0).([]ledger.TokenAccount), args.Error(1)
}

func (m *ledgerClientMock) LoadMetadata(ctx context.Context, metadataAccount solana.PublicKey) (ledger.Metadata, error) {
	args := m.MethodCalled("LoadMetadata", ctx, metadataAccount)
	return args.Get(0).(ledger.Metadata), args.Error(1)
}

func (m *ledgerClientMock) ResolveReceivingAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	args := m.MethodCalled("ResolveReceivingAccount", ctx, owner, mint)
	return args.Get(0).(solana.PublicKey), args.Error(1)
}

// NewTransaction assembles for real so submitted instructions stay
// inspectable; only network-touching methods are mocked.
func (m *ledgerClientMock) NewTransaction(ctx context.Context, payer solana.PublicKey, instrs ...solana.Instruction) (*solana.Transaction, error) {
	return solana.NewTransaction(instrs, solana.Hash{}, solana.TransactionPayer(payer))
}

func (m *ledgerClientMock) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	args := m.MethodCalled("AwaitConfirmation", ctx, sig)
	return args.Error(0)
}

// walletStub records every submitted transaction and can be told to reject
// the n-th submission.
type walletStub struct {
	key solana.PrivateKey

	mu     sync.Mutex
	sent   []*solana.Transaction
	failAt int
}

func newWalletStub() *walletStub {
	return &walletStub{key: solana.NewWallet().PrivateKey, failAt: -1}
}

func (w *walletStub) PublicKey() (solana.PublicKey, bool) {
	return w.key.PublicKey(), true
}

func (w *walletStub) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt == len(w.sent) {
		return solana.Signature{}, errors.New("user rejected the request")
	}
	w.sent = append(w.sent, tx)
	var raw [64]byte
	raw[0] = byte(len(w.sent))
	return solana.SignatureFromBytes(raw[:]), nil
}

func (w *walletStub) sentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

func (w *walletStub) programOf(t *testing.T, i int) solana.PublicKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx := w.sent[i]
	prog, err := tx.Message.Program(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	return prog
}

func (w *walletStub) instructionData(i int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sent[i].Message.Instructions[0].Data
}

// panickingWallet faults inside SendTransaction the way a broken adapter
// would, instead of returning an error.
type panickingWallet struct {
	key solana.PrivateKey
}

func (p *panickingWallet) PublicKey() (solana.PublicKey, bool) {
	return p.key.PublicKey(), true
}

func (p *panickingWallet) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	panic("wallet adapter fault")
}

func fungibleHolding(t *testing.T, amount float64, decimals uint8) holding.Holding {
	return holding.Holding{
		Account:  testutils.RandomPublicKey(t),
		Mint:     testutils.RandomPublicKey(t),
		Amount:   amount,
		Decimals: decimals,
	}
}

func TestNativeTransferCompletes(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	owner, _ := w.PublicKey()
	recipient := testutils.RandomPublicKey(t)
	req := transfer.Request{
		Source:    holding.NewNative(owner, 2_500_000_000),
		Amount:    1.0,
		Recipient: recipient.String(),
	}

	require.NoError(t, orch.InitiateTransfer(context.Background(), req))

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseCompleted, snap.Phase)
	assert.False(t, snap.Signature.IsZero())
	assert.Contains(t, snap.ExplorerURL, snap.Signature.String())
	assert.Contains(t, snap.ExplorerURL, "cluster=devnet")

	// Exactly one submission carrying 1.0 SOL in lamports, and no
	// receiving-account resolution on the native path.
	require.Equal(t, 1, w.sentCount())
	assert.Equal(t, solana.SystemProgramID, w.programOf(t, 0))
	data := w.instructionData(0)
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(data[4:]))
	client.AssertExpectations(t)
}

func TestNativeTransferRejectedByWallet(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	w.failAt = 0
	orch := transfer.NewOrchestrator(client, w, "devnet")

	owner, _ := w.PublicKey()
	req := transfer.Request{
		Source:    holding.NewNative(owner, 2_500_000_000),
		Amount:    1.0,
		Recipient: testutils.RandomPublicKey(t).String(),
	}

	err := orch.InitiateTransfer(context.Background(), req)
	require.ErrorIs(t, err, transfer.ErrSubmissionRejected)

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseFailed, snap.Phase)
	assert.ErrorIs(t, snap.Err, transfer.ErrSubmissionRejected)
	assert.Equal(t, 0, w.sentCount())
}

func TestInsufficientBalanceAbortsBeforeNetwork(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	req := transfer.Request{
		Source:    fungibleHolding(t, 100, 6),
		Amount:    150,
		Recipient: testutils.RandomPublicKey(t).String(),
	}

	err := orch.InitiateTransfer(context.Background(), req)
	require.ErrorIs(t, err, transfer.ErrInsufficientBalance)

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseIdle, snap.Phase)
	assert.False(t, snap.AmountValid)
	assert.Equal(t, 0, w.sentCount())
	client.AssertExpectations(t)
}

func TestInvalidRecipientNeverSubmits(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
	}{
		{name: "malformed", recipient: "not-a-real-address"},
		{name: "empty", recipient: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &ledgerClientMock{}
			w := newWalletStub()
			orch := transfer.NewOrchestrator(client, w, "devnet")

			assert.False(t, orch.ValidateRecipient(tc.recipient))

			req := transfer.Request{
				Source:    fungibleHolding(t, 100, 6),
				Amount:    10,
				Recipient: tc.recipient,
			}
			err := orch.InitiateTransfer(context.Background(), req)
			require.ErrorIs(t, err, transfer.ErrInvalidRecipient)

			snap := orch.Snapshot()
			assert.Equal(t, transfer.PhaseIdle, snap.Phase)
			assert.False(t, snap.RecipientValid)
			assert.Equal(t, 0, w.sentCount())
			client.AssertExpectations(t)
		})
	}
}

func TestOffCurveRecipientRejected(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	// A derived program account parses fine but must not be accepted as a
	// transfer recipient.
	offCurve := testutils.RandomOffCurveKey(t)
	assert.False(t, orch.ValidateRecipient(offCurve.String()))

	req := transfer.Request{
		Source:    fungibleHolding(t, 100, 6),
		Amount:    10,
		Recipient: offCurve.String(),
	}
	err := orch.InitiateTransfer(context.Background(), req)
	require.ErrorIs(t, err, transfer.ErrInvalidRecipient)
	assert.Equal(t, 0, w.sentCount())
}

func TestFungibleTransferWithExistingReceivingAccount(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	receiving, _, err := solana.FindAssociatedTokenAddress(recipient, source.Mint)
	require.NoError(t, err)

	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(receiving, nil).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseCompleted, snap.Phase)
	require.Equal(t, 1, w.sentCount())
	assert.Equal(t, solana.TokenProgramID, w.programOf(t, 0))
	data := w.instructionData(0)
	assert.Equal(t, uint64(10_000_000), binary.LittleEndian.Uint64(data[1:]))
	client.AssertExpectations(t)
}

func TestProvisioningConfirmedBeforeTransfer(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	receiving, _, err := solana.FindAssociatedTokenAddress(recipient, source.Mint)
	require.NoError(t, err)

	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(receiving, ledger.ErrReceivingAccountNotFound).Once()
	client.On("AwaitConfirmation", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// The provisioning transaction must be fully confirmed while the
			// transfer submission has not yet happened.
			assert.Equal(t, 1, w.sentCount())
		}).
		Return(nil).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseAwaitingProvisionConfirmation, snap.Phase)
	assert.Equal(t, 0, w.sentCount(), "nothing may be submitted before the user decides")

	require.NoError(t, orch.ConfirmProvisioning(context.Background()))

	snap = orch.Snapshot()
	assert.Equal(t, transfer.PhaseCompleted, snap.Phase)
	assert.False(t, snap.ProvisionSignature.IsZero())
	assert.False(t, snap.Signature.IsZero())

	require.Equal(t, 2, w.sentCount())
	assert.Equal(t, solana.SPLAssociatedTokenAccountProgramID, w.programOf(t, 0))
	assert.Equal(t, solana.TokenProgramID, w.programOf(t, 1))
	data := w.instructionData(1)
	assert.Equal(t, uint64(10_000_000), binary.LittleEndian.Uint64(data[1:]))
	client.AssertExpectations(t)
}

func TestProvisioningCancelReturnsToIdle(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(testutils.RandomPublicKey(t), ledger.ErrReceivingAccountNotFound).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))
	require.Equal(t, transfer.PhaseAwaitingProvisionConfirmation, orch.Snapshot().Phase)

	require.NoError(t, orch.CancelProvisioning())
	assert.Equal(t, transfer.PhaseIdle, orch.Snapshot().Phase)
	assert.Equal(t, 0, w.sentCount())

	// The decision is gone; confirming now is a stale intent.
	assert.ErrorIs(t, orch.ConfirmProvisioning(context.Background()), transfer.ErrNoPendingProvision)
}

func TestProvisioningSubmissionFailure(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	w.failAt = 0
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(testutils.RandomPublicKey(t), ledger.ErrReceivingAccountNotFound).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))
	err := orch.ConfirmProvisioning(context.Background())
	require.ErrorIs(t, err, transfer.ErrProvisioningFailed)

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseFailed, snap.Phase)
	assert.Equal(t, 0, w.sentCount(), "the transfer must not run after failed provisioning")
}

func TestProvisioningConfirmationFailure(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(testutils.RandomPublicKey(t), ledger.ErrReceivingAccountNotFound).Once()
	client.On("AwaitConfirmation", mock.Anything, mock.Anything).
		Return(errors.New("transaction failed on chain")).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))
	err := orch.ConfirmProvisioning(context.Background())
	require.ErrorIs(t, err, transfer.ErrProvisioningFailed)

	assert.Equal(t, transfer.PhaseFailed, orch.Snapshot().Phase)
	assert.Equal(t, 1, w.sentCount(), "only the provisioning transaction may have been submitted")
}

func TestSubmissionPanicDowngradedToFailure(t *testing.T) {
	client := &ledgerClientMock{}
	w := &panickingWallet{key: solana.NewWallet().PrivateKey}
	orch := transfer.NewOrchestrator(client, w, "devnet")

	owner, _ := w.PublicKey()
	req := transfer.Request{
		Source:    holding.NewNative(owner, 2_500_000_000),
		Amount:    1.0,
		Recipient: testutils.RandomPublicKey(t).String(),
	}

	var err error
	require.NotPanics(t, func() {
		err = orch.InitiateTransfer(context.Background(), req)
	})
	require.ErrorIs(t, err, transfer.ErrSubmissionRejected)

	snap := orch.Snapshot()
	assert.Equal(t, transfer.PhaseFailed, snap.Phase)
	assert.ErrorIs(t, snap.Err, transfer.ErrSubmissionRejected)
}

func TestProvisioningPanicDowngradedToFailure(t *testing.T) {
	client := &ledgerClientMock{}
	w := &panickingWallet{key: solana.NewWallet().PrivateKey}
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(testutils.RandomPublicKey(t), ledger.ErrReceivingAccountNotFound).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))

	var err error
	require.NotPanics(t, func() {
		err = orch.ConfirmProvisioning(context.Background())
	})
	require.ErrorIs(t, err, transfer.ErrProvisioningFailed)
	assert.Equal(t, transfer.PhaseFailed, orch.Snapshot().Phase)
}

func TestSecondTransferWhileInFlight(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	source := fungibleHolding(t, 100, 6)
	recipient := testutils.RandomPublicKey(t)
	client.On("ResolveReceivingAccount", mock.Anything, recipient, source.Mint).
		Return(testutils.RandomPublicKey(t), ledger.ErrReceivingAccountNotFound).Once()

	req := transfer.Request{Source: source, Amount: 10, Recipient: recipient.String()}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))

	err := orch.InitiateTransfer(context.Background(), req)
	assert.ErrorIs(t, err, transfer.ErrTransferInFlight)
	assert.Equal(t, transfer.PhaseAwaitingProvisionConfirmation, orch.Snapshot().Phase)
}

func TestNotConnected(t *testing.T) {
	client := &ledgerClientMock{}
	orch := transfer.NewOrchestrator(client, wallet.Disconnected{}, "devnet")

	req := transfer.Request{
		Source:    fungibleHolding(t, 100, 6),
		Amount:    10,
		Recipient: testutils.RandomPublicKey(t).String(),
	}
	err := orch.InitiateTransfer(context.Background(), req)
	require.ErrorIs(t, err, transfer.ErrNotConnected)
	assert.Equal(t, transfer.PhaseIdle, orch.Snapshot().Phase)
}

func TestSubmitTransferWithoutSelection(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	err := orch.SubmitTransfer(context.Background())
	assert.ErrorIs(t, err, transfer.ErrNoHoldingSelected)
}

func TestStagedInputsDriveSubmission(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	owner, _ := w.PublicKey()
	recipient := testutils.RandomPublicKey(t)

	orch.SelectHolding(holding.NewNative(owner, 2_500_000_000))
	orch.SetAmount(1.0)
	orch.SetRecipient(recipient.String())

	snap := orch.Snapshot()
	assert.True(t, snap.AmountValid)
	assert.True(t, snap.RecipientValid)

	require.NoError(t, orch.SubmitTransfer(context.Background()))
	assert.Equal(t, transfer.PhaseCompleted, orch.Snapshot().Phase)
	assert.Equal(t, 1, w.sentCount())
}

func TestDismissResultClearsTerminalSession(t *testing.T) {
	client := &ledgerClientMock{}
	w := newWalletStub()
	orch := transfer.NewOrchestrator(client, w, "devnet")

	owner, _ := w.PublicKey()
	req := transfer.Request{
		Source:    holding.NewNative(owner, 2_500_000_000),
		Amount:    1.0,
		Recipient: testutils.RandomPublicKey(t).String(),
	}
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))
	require.Equal(t, transfer.PhaseCompleted, orch.Snapshot().Phase)

	orch.DismissResult()
	assert.Equal(t, transfer.PhaseIdle, orch.Snapshot().Phase)

	// A dismissed session leaves room for a fresh one.
	require.NoError(t, orch.InitiateTransfer(context.Background(), req))
	assert.Equal(t, transfer.PhaseCompleted, orch.Snapshot().Phase)
	assert.Equal(t, 2, w.sentCount())
}
