package svm

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

func TestNewClientSigner_Validation(t *testing.T) {
	if _, err := NewClientSigner(solana.PublicKey{}, func(context.Context, *solana.Transaction) error { return nil }); err == nil {
		t.Error("Expected error for zero public key")
	}
	if _, err := NewClientSigner(solana.NewWallet().PublicKey(), nil); err == nil {
		t.Error("Expected error for nil callback")
	}
	if _, err := NewClientSignerFromPrivateKey("not-a-key"); err == nil {
		t.Error("Expected error for invalid private key")
	}
}

func TestClientSigner_PartialSign(t *testing.T) {
	caller := solana.NewWallet()
	feePayer := solana.NewWallet().PublicKey()

	signer, err := NewClientSignerFromPrivateKey(caller.PrivateKey.String())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !signer.Address().Equals(caller.PublicKey()) {
		t.Fatalf("Expected address %s, got %s", caller.PublicKey(), signer.Address())
	}

	transfer := system.NewTransferInstruction(1, caller.PublicKey(), solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		solana.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn"),
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := signer.SignTransaction(context.Background(), tx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(tx.Signatures) != 2 {
		t.Fatalf("Expected 2 signature slots, got %d", len(tx.Signatures))
	}
	if !tx.Signatures[0].IsZero() {
		t.Error("Fee payer slot must stay empty")
	}
	message, _ := tx.Message.MarshalBinary()
	if !tx.Signatures[1].Verify(caller.PublicKey(), message) {
		t.Error("Caller signature does not verify")
	}
}

func TestClientSigner_NotARequiredSigner(t *testing.T) {
	outsider, err := NewClientSignerFromPrivateKey(solana.NewWallet().PrivateKey.String())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	payer := solana.NewWallet().PublicKey()
	transfer := system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{transfer},
		solana.MustHashFromBase58("4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn"),
		solana.TransactionPayer(payer),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := outsider.SignTransaction(context.Background(), tx); err == nil {
		t.Error("Expected error signing a transaction the key is not part of")
	}
}
