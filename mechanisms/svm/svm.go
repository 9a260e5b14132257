// Package svm holds the Solana pieces of the x402 exact scheme: network
// names, USDC mints, compute budget constants, unit conversion and the
// associated token account helpers used to build payment transactions.
// The caller-side transaction builder lives in the v1 subpackage.
package svm

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

const (
	// SchemeExact is the only payment scheme supported.
	SchemeExact = "exact"

	// V1 network identifiers.
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"

	// Cluster names as used by Solana tooling.
	ClusterMainnetBeta = "mainnet-beta"
	ClusterDevnet      = "devnet"
	ClusterTestnet     = "testnet"

	// USDC mints.
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

	// USDCDecimals is the number of decimals of every USDC mint.
	USDCDecimals = 6

	// DefaultComputeUnitLimit covers ComputeLimit + ComputePrice + optional
	// ATA creation + TransferChecked.
	DefaultComputeUnitLimit uint32 = 40_000

	// DefaultComputeUnitPrice is the priority fee in microlamports per compute unit.
	DefaultComputeUnitPrice uint64 = 1
)

// ClientSvmSigner is the caller's key material.
type ClientSvmSigner interface {
	// Address is the wallet that owns the source token account and pays ATA rent.
	Address() solana.PublicKey
	// SignTransaction adds the caller's signature without touching other signers.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}
