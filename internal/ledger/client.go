package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrReceivingAccountNotFound signals that the recipient has no token
	// account for the requested mint. It is a recoverable condition, not a
	// terminal failure: the caller may provision the account and retry.
	ErrReceivingAccountNotFound = errors.New("receiving account not found")
)

// TokenAccount is one parsed token-program account owned by a wallet.
type TokenAccount struct {
	// Address of the token account itself.
	Address solana.PublicKey
	// Owner wallet the account belongs to.
	Owner solana.PublicKey
	Mint  solana.PublicKey
	// Amount in human-readable units, adjusted for Decimals.
	Amount   float64
	Decimals uint8
}

// Metadata is the on-chain name/symbol pair of a mint.
type Metadata struct {
	Name   string
	Symbol string
}

// Client is the ledger surface the core consumes. Implementations talk to a
// Solana JSON-RPC node; tests substitute mocks.
type Client interface {
	// NativeBalance returns the owner's lamport balance.
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)

	// TokenAccountsByOwner enumerates every token-program account whose
	// owner field matches the given wallet.
	TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error)

	// LoadMetadata fetches and decodes the metadata account at the given
	// address. Returns an error when the account is absent or undecodable.
	LoadMetadata(ctx context.Context, metadataAccount solana.PublicKey) (Metadata, error)

	// ResolveReceivingAccount derives the owner's associated token account
	// for mint and checks it exists on chain. When the account is absent it
	// returns the derived address together with ErrReceivingAccountNotFound:
	// callers provision that exact address and then transfer to it.
	ResolveReceivingAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error)

	// NewTransaction assembles an unsigned transaction over the given
	// instructions with a fresh blockhash and the given fee payer.
	NewTransaction(ctx context.Context, payer solana.PublicKey, instrs ...solana.Instruction) (*solana.Transaction, error)

	// AwaitConfirmation blocks until the signature reaches confirmed
	// commitment, the transaction fails on chain, or ctx is done.
	AwaitConfirmation(ctx context.Context, sig solana.Signature) error
}

// Submitter relays fully signed transactions to the network. Kept separate
// from Client so wallet connectors can depend on submission alone.
type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// ResolveMetadataAddress derives the canonical metadata account address for a
// mint. Pure derivation, no network access.
func ResolveMetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata address for %s: %w", mint, err)
	}
	return addr, nil
}

// ExplorerURL returns the explorer tracking link for a submitted transaction.
func ExplorerURL(sig solana.Signature, cluster string) string {
	if cluster == "" || cluster == "mainnet-beta" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", sig)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", sig, cluster)
}
