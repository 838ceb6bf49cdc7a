package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Disconnected is the Connector used before any wallet is attached. Every
// transfer attempt through it fails the connection precondition.
type Disconnected struct{}

func (Disconnected) PublicKey() (solana.PublicKey, bool) {
	return solana.PublicKey{}, false
}

func (Disconnected) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, ErrNotConnected
}
