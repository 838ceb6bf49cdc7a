package ledger

import (
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// metadataAccount mirrors the leading fields of the Metaplex token-metadata
// account layout. Fields after the symbol are not needed and stay undecoded.
type metadataAccount struct {
	Key             uint8
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Name            string
	Symbol          string
}

// decodeMetadata Borsh-decodes the name and symbol out of a raw metadata
// account. The on-chain strings are fixed-size and NUL padded.
func decodeMetadata(data []byte) (Metadata, error) {
	var acc metadataAccount
	if err := bin.NewBorshDecoder(data).Decode(&acc); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata account: %w", err)
	}
	return Metadata{
		Name:   strings.TrimRight(acc.Name, "\x00"),
		Symbol: strings.TrimRight(acc.Symbol, "\x00"),
	}, nil
}
