package ledger

import (
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// TransferNative builds a system-program transfer of lamports between two
// ordinary accounts.
func TransferNative(lamports uint64, from, to solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// TransferToken builds a token-program transfer of base units from one token
// account to another, signed by the source owner.
func TransferToken(amount uint64, source, dest, authority solana.PublicKey) solana.Instruction {
	return token.NewTransferInstruction(amount, source, dest, authority, nil).Build()
}

// CreateReceivingAccount builds the instruction that provisions the
// associated token account of wallet for mint, funded by payer. The derived
// account address is fixed by (wallet, mint), so the instruction needs no
// explicit target address.
func CreateReceivingAccount(payer, wallet, mint solana.PublicKey) solana.Instruction {
	return associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).Build()
}
