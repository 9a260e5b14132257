// Package svm provides caller key material for Solana payment transactions.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/vellumlabs/x402pay/mechanisms/svm"
)

// SignTransactionFunc defines the callback used to sign Solana transactions.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// ClientSigner implements x402svm.ClientSvmSigner using a signing callback.
// Wallet adapters and remote signers plug in through NewClientSigner.
type ClientSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

// NewClientSigner creates a client signer from a public key and signing callback.
func NewClientSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (*ClientSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewClientSignerFromPrivateKey creates a client signer from a base58-encoded private key.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return newKeySigner(privateKey)
}

// NewClientSignerFromKeygenFile loads a key written by solana-keygen.
func NewClientSignerFromKeygenFile(path string) (*ClientSigner, error) {
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	return newKeySigner(privateKey)
}

func newKeySigner(privateKey solana.PrivateKey) (*ClientSigner, error) {
	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return partialSign(ctx, privateKey, tx)
	}
	return NewClientSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the Solana public key of the signer.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction adds the signer's signature at its account index.
// Signatures of other required signers, such as the facilitator fee payer,
// are left as zero values for them to fill in.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

var _ x402svm.ClientSvmSigner = (*ClientSigner)(nil)

func partialSign(ctx context.Context, privateKey solana.PrivateKey, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if int(accountIndex) >= required {
		return fmt.Errorf("%s is not a required signer of the transaction", privateKey.PublicKey())
	}

	if len(tx.Signatures) < required {
		signatures := make([]solana.Signature, required)
		copy(signatures, tx.Signatures)
		tx.Signatures = signatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}
