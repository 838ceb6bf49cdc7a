package holding

import (
	"math"

	"github.com/gagliardetto/solana-go"
)

const (
	// NativeDecimals is the lamport scale of the native asset.
	NativeDecimals = 9

	NativeName   = "Solana"
	NativeSymbol = "SOL"
)

// Holding is one balance an address controls, native coin or fungible token.
type Holding struct {
	// Account holds the balance: the owner's own address for the native
	// asset, the derived token account address for fungible assets.
	Account solana.PublicKey
	// Mint identifies the underlying asset. The native asset uses the
	// zero key as its sentinel, it has no mint of its own.
	Mint solana.PublicKey
	// Amount in human-readable units, already adjusted for Decimals.
	Amount   float64
	Decimals uint8

	// Resolved asynchronously by enrichment; empty until it completes.
	Name   string
	Symbol string
}

// Key is the structural identity of a holding. Re-fetched but unchanged
// holdings compare equal under it, and enrichment results are targeted by it.
type Key struct {
	Account solana.PublicKey
	Mint    solana.PublicKey
}

func (h Holding) Key() Key {
	return Key{Account: h.Account, Mint: h.Mint}
}

func (h Holding) IsNative() bool {
	return h.Mint.IsZero()
}

// Label returns the display name, or a truncated mint identifier when
// enrichment has not resolved one.
func (h Holding) Label() string {
	if h.Name != "" {
		return h.Name
	}
	return "Token-" + h.Mint.String()[:10]
}

// NewNative builds the native holding for an owner from a lamport balance.
func NewNative(owner solana.PublicKey, lamports uint64) Holding {
	return Holding{
		Account:  owner,
		Amount:   FromSmallestUnits(lamports, NativeDecimals),
		Decimals: NativeDecimals,
		Name:     NativeName,
		Symbol:   NativeSymbol,
	}
}

// ToSmallestUnits converts a human-readable amount to the ledger's integer
// base unit.
func ToSmallestUnits(amount float64, decimals uint8) uint64 {
	return uint64(math.Round(amount * math.Pow10(int(decimals))))
}

// FromSmallestUnits converts an integer base-unit value to human-readable
// units.
func FromSmallestUnits(raw uint64, decimals uint8) float64 {
	return float64(raw) / math.Pow10(int(decimals))
}
