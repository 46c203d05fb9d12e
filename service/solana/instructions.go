package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Well-known Solana program IDs
var (
	// SystemProgramID is the native SOL transfer program
	SystemProgramID = solana.SystemProgramID

	// TokenProgramID is the SPL Token program
	TokenProgramID = solana.TokenProgramID

	// AssociatedTokenProgramID derives and creates associated token accounts
	AssociatedTokenProgramID = solana.SPLAssociatedTokenAccountProgramID

	// WrappedSOLMint is the SPL mint that stands in for native SOL
	WrappedSOLMint = solana.WrappedSol
)

// Instruction discriminators
const (
	// AssociatedTokenCreateIdempotentInstruction creates the account only if it is missing.
	AssociatedTokenCreateIdempotentInstruction = uint8(1)

	TokenProgramTransferCheckedInstruction = uint8(12)
)

// NewCreateIdempotentATAInstruction builds an instruction that creates owner's
// associated token account for mint if it does not exist yet, paid by payer.
// It is a no-op on chain when the account already exists.
func NewCreateIdempotentATAInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(SystemProgramID),
		solana.Meta(TokenProgramID),
	}
	return solana.NewInstruction(
		AssociatedTokenProgramID,
		accounts,
		[]byte{AssociatedTokenCreateIdempotentInstruction},
	), ata, nil
}

// FeeTransferInstructions builds the instructions for the platform fee transfer
// from payer to feeWallet. For SPL mints the destination token account is created
// if missing before a TransferChecked; for wrapped SOL the fee moves as lamports.
func FeeTransferInstructions(payer, feeWallet, mint solana.PublicKey, decimals uint8, amount uint64) ([]solana.Instruction, error) {
	if amount == 0 {
		return nil, fmt.Errorf("fee amount must be positive")
	}

	if mint.Equals(WrappedSOLMint) {
		return []solana.Instruction{
			system.NewTransferInstruction(amount, payer, feeWallet).Build(),
		}, nil
	}

	createIx, destination, err := NewCreateIdempotentATAInstruction(payer, feeWallet, mint)
	if err != nil {
		return nil, err
	}
	source, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive payer token account: %w", err)
	}

	transferIx, err := token.NewTransferCheckedInstruction(
		amount,
		decimals,
		source,
		mint,
		destination,
		payer,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build fee transfer: %w", err)
	}

	return []solana.Instruction{createIx, transferIx}, nil
}

// TipInstruction builds a lamport transfer from payer to a relay tip account.
func TipInstruction(payer, tipAccount solana.PublicKey, lamports uint64) solana.Instruction {
	return system.NewTransferInstruction(lamports, payer, tipAccount).Build()
}

// DecodeTransferChecked extracts the amount and decimals from TransferChecked
// instruction data.
//
// TransferChecked instruction format:
// [0]      = instruction type (u8, 12 = TransferChecked)
// [1..9]   = amount (u64)
// [9]      = decimals (u8)
func DecodeTransferChecked(data []byte) (amount uint64, decimals uint8, err error) {
	if len(data) < 10 {
		return 0, 0, fmt.Errorf("transferChecked instruction data too short")
	}
	if data[0] != TokenProgramTransferCheckedInstruction {
		return 0, 0, fmt.Errorf("not a transferChecked instruction: %d", data[0])
	}
	return binary.LittleEndian.Uint64(data[1:9]), data[9], nil
}
