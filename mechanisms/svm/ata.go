package svm

import (
	"encoding/base64"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// Associated token account program instruction discriminators.
const (
	ataInstructionCreate           byte = 0
	ataInstructionCreateIdempotent byte = 1
)

// NewCreateAssociatedTokenAccountInstruction creates the associated token
// account of owner for mint, paid for by payer. It returns the instruction
// and the derived account address.
func NewCreateAssociatedTokenAccountInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive associated token account: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		accounts,
		[]byte{ataInstructionCreate},
	), ata, nil
}

// IsCreateAssociatedTokenAccount reports whether data is an ATA create instruction.
func IsCreateAssociatedTokenAccount(data []byte) bool {
	return len(data) == 0 || data[0] == ataInstructionCreate || data[0] == ataInstructionCreateIdempotent
}

// EncodeTransaction serializes tx to the base64 form carried in X-PAYMENT.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	tx := new(solana.Transaction)
	if err := tx.UnmarshalBase64(encoded); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}
