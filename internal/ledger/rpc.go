package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/transferit/transferit/internal/holding"
	"github.com/transferit/transferit/pkg/log"
)

const (
	// Token-program account layout: 165 bytes, owner wallet at byte 32.
	tokenAccountSize = 165
	tokenOwnerOffset = 32

	confirmPollInterval = 500 * time.Millisecond
)

// RPCClient implements Client against a Solana JSON-RPC node.
type RPCClient struct {
	rpc *rpc.Client
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{rpc: rpc.New(endpoint)}
}

func (c *RPCClient) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance for %s: %w", owner, err)
	}
	return out.Value, nil
}

func (c *RPCClient) TokenAccountsByOwner(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	res, err := c.rpc.GetProgramAccountsWithOpts(ctx, solana.TokenProgramID, &rpc.GetProgramAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: tokenAccountSize},
			{Memcmp: &rpc.RPCFilterMemcmp{
				Offset: tokenOwnerOffset,
				Bytes:  solana.Base58(owner.Bytes()),
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get token accounts for %s: %w", owner, err)
	}

	accounts := make([]TokenAccount, 0, len(res))
	for _, keyed := range res {
		var parsed token.Account
		if err := bin.NewBinDecoder(keyed.Account.Data.GetBinary()).Decode(&parsed); err != nil {
			log.RPC.Warn().Err(err).Stringer("account", keyed.Pubkey).Msg("skipping undecodable token account")
			continue
		}
		// The raw account layout carries no decimals; ask the node for the
		// scaled balance the same way parsed-JSON queries would report it.
		bal, err := c.rpc.GetTokenAccountBalance(ctx, keyed.Pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return nil, fmt.Errorf("get token account balance for %s: %w", keyed.Pubkey, err)
		}
		amount := holding.FromSmallestUnits(parsed.Amount, bal.Value.Decimals)
		if bal.Value.UiAmount != nil {
			amount = *bal.Value.UiAmount
		}
		accounts = append(accounts, TokenAccount{
			Address:  keyed.Pubkey,
			Owner:    owner,
			Mint:     parsed.Mint,
			Amount:   amount,
			Decimals: bal.Value.Decimals,
		})
	}
	return accounts, nil
}

func (c *RPCClient) LoadMetadata(ctx context.Context, metadataAccount solana.PublicKey) (Metadata, error) {
	res, err := c.rpc.GetAccountInfo(ctx, metadataAccount)
	if err != nil {
		return Metadata{}, fmt.Errorf("get metadata account %s: %w", metadataAccount, err)
	}
	return decodeMetadata(res.Value.Data.GetBinary())
}

func (c *RPCClient) ResolveReceivingAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive receiving account for %s: %w", owner, err)
	}
	_, err = c.rpc.GetAccountInfo(ctx, ata)
	if errors.Is(err, rpc.ErrNotFound) {
		return ata, ErrReceivingAccountNotFound
	}
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("get receiving account %s: %w", ata, err)
	}
	return ata, nil
}

func (c *RPCClient) NewTransaction(ctx context.Context, payer solana.PublicKey, instrs ...solana.Instruction) (*solana.Transaction, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instrs, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

// Submit relays a signed transaction to the network.
func (c *RPCClient) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *RPCClient) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return fmt.Errorf("get signature status for %s: %w", sig, err)
		}
		if len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed on chain: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
