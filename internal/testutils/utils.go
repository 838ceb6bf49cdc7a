package testutils

import (
	"crypto/rand"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

// RandomPublicKey returns an on-curve address, the kind an ordinary wallet
// account has.
func RandomPublicKey(t *testing.T) solana.PublicKey {
	wallet := solana.NewWallet()
	require.NotNil(t, wallet)
	return wallet.PublicKey()
}

// RandomOffCurveKey returns an address that does not lie on the ed25519
// curve, like a derived program account.
func RandomOffCurveKey(t *testing.T) solana.PublicKey {
	for {
		var raw [32]byte
		_, err := rand.Read(raw[:])
		require.NoError(t, err)
		pk := solana.PublicKeyFromBytes(raw[:])
		if !pk.IsOnCurve() {
			return pk
		}
	}
}

func RandomSignature(t *testing.T) solana.Signature {
	var raw [64]byte
	_, err := rand.Read(raw[:])
	require.NoError(t, err)
	return solana.SignatureFromBytes(raw[:])
}
