package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/transferit/transferit/internal/ledger"
)

// ErrNotConnected is returned by connectors that have no attached wallet.
var ErrNotConnected = errors.New("wallet not connected")

// Connector is the wallet surface the core consumes: the currently connected
// owner address, if any, and signing plus submission of a built transaction.
// The browser wallet adapter satisfied this in the original UI; the service
// binary uses a local keypair.
type Connector interface {
	// PublicKey returns the connected owner address. The second return is
	// false when no wallet is connected.
	PublicKey() (solana.PublicKey, bool)

	// SendTransaction signs the transaction with the connected wallet and
	// relays it to the network.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Keypair is a Connector backed by a local private key.
type Keypair struct {
	key       solana.PrivateKey
	submitter ledger.Submitter
}

func NewKeypair(key solana.PrivateKey, submitter ledger.Submitter) *Keypair {
	return &Keypair{key: key, submitter: submitter}
}

// KeypairFromFile loads a solana-keygen style JSON key file.
func KeypairFromFile(path string, submitter ledger.Submitter) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair from %s: %w", path, err)
	}
	return NewKeypair(key, submitter), nil
}

func (k *Keypair) PublicKey() (solana.PublicKey, bool) {
	return k.key.PublicKey(), true
}

func (k *Keypair) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(k.key.PublicKey()) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}
	return k.submitter.Submit(ctx, tx)
}
