// Package v1 builds x402 v1 exact-scheme payment proofs for Solana: a
// USDC TransferChecked transaction, partially signed by the caller, whose
// fee payer is the facilitator.
package v1

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	x402 "github.com/vellumlabs/x402pay"
	svm "github.com/vellumlabs/x402pay/mechanisms/svm"
)

// RPCClient is the part of the Solana JSON-RPC API the builder uses.
// *rpc.Client satisfies it.
type RPCClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// ExactSvmClientV1 implements x402.SchemeNetworkClient for Solana exact payments.
type ExactSvmClientV1 struct {
	signer    svm.ClientSvmSigner
	network   string
	rpc       RPCClient
	maxAmount uint64
	logger    *zap.Logger
}

// Option configures an ExactSvmClientV1.
type Option func(*ExactSvmClientV1)

// WithRPCClient replaces the default RPC client of the network.
func WithRPCClient(client RPCClient) Option {
	return func(c *ExactSvmClientV1) {
		c.rpc = client
	}
}

// WithRPCURL points the default RPC client at url.
func WithRPCURL(url string) Option {
	return func(c *ExactSvmClientV1) {
		if url != "" {
			c.rpc = rpc.New(url)
		}
	}
}

// WithMaxAmount refuses to sign payments above limit atomic units. Zero means no limit.
func WithMaxAmount(limit uint64) Option {
	return func(c *ExactSvmClientV1) {
		c.maxAmount = limit
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *ExactSvmClientV1) {
		c.logger = logger
	}
}

// NewExactSvmClientV1 creates a builder paying on network, a v1 network id or cluster name.
func NewExactSvmClientV1(signer svm.ClientSvmSigner, network string, opts ...Option) (*ExactSvmClientV1, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	config, err := svm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	c := &ExactSvmClientV1{
		signer:  signer,
		network: config.Name,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rpc == nil {
		c.rpc = rpc.New(config.RPCURL)
	}
	return c, nil
}

// Scheme returns the scheme identifier
func (c *ExactSvmClientV1) Scheme() string {
	return svm.SchemeExact
}

// Network returns the v1 network id payments are built for.
func (c *ExactSvmClientV1) Network() string {
	return c.network
}

// CreatePaymentPayload builds and partially signs the payment transaction for requirements.
func (c *ExactSvmClientV1) CreatePaymentPayload(ctx context.Context, requirements x402.PaymentRequirements) (x402.PaymentPayload, error) {
	if requirements.Network != c.network {
		return x402.PaymentPayload{}, fmt.Errorf("%w: requirement is for %s, client pays on %s",
			x402.ErrNetworkMismatch, requirements.Network, c.network)
	}
	if requirements.Scheme != svm.SchemeExact {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported scheme: %s", requirements.Scheme)
	}

	feePayerAddr := requirements.FeePayer()
	if feePayerAddr == "" {
		return x402.PaymentPayload{}, x402.ErrMissingFeePayer
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid feePayer address: %w", err)
	}

	amount, err := parseAtomic(requirements.MaxAmountRequired)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	if c.maxAmount > 0 && amount > c.maxAmount {
		return x402.PaymentPayload{}, fmt.Errorf("%w: %d > %d", x402.ErrAmountExceedsLimit, amount, c.maxAmount)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid asset address: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payTo address: %w", err)
	}

	owner := c.signer.Address()
	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	sourceExists, err := c.accountExists(ctx, sourceATA)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get source account: %w", err)
	}
	if !sourceExists {
		return x402.PaymentPayload{}, fmt.Errorf("%w: no token account %s for %s", x402.ErrUninitializedAccount, sourceATA, owner)
	}

	destinationExists, err := c.accountExists(ctx, destinationATA)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get destination account: %w", err)
	}

	decimals, err := c.mintDecimals(ctx, mint)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	latestBlockhash, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if latestBlockhash == nil || latestBlockhash.Value == nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	instructions := []solana.Instruction{cuLimit, cuPrice}

	if !destinationExists {
		createATA, _, err := svm.NewCreateAssociatedTokenAccountInstruction(owner, payTo, mint)
		if err != nil {
			return x402.PaymentPayload{}, err
		}
		instructions = append(instructions, createATA)
		c.logger.Debug("recipient token account missing, creating it",
			zap.String("payTo", payTo.String()), zap.String("ata", destinationATA.String()))
	}

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	instructions = append(instructions, transferIx)

	tx, err := solana.NewTransaction(instructions, latestBlockhash.Value.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	encoded, err := svm.EncodeTransaction(tx)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     x402.ExactSvmPayload{Transaction: encoded},
	}, nil
}

func (c *ExactSvmClientV1) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

func (c *ExactSvmClientV1) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if svm.IsKnownUSDCMint(mint) {
		return svm.USDCDecimals, nil
	}

	info, err := c.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to get mint account: %w", err)
	}
	if info == nil || info.Value == nil {
		return 0, fmt.Errorf("mint account %s does not exist", mint)
	}
	if info.Value.Owner != solana.TokenProgramID {
		return 0, fmt.Errorf("asset %s was not created by the token program", mint)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return 0, fmt.Errorf("failed to decode mint data: %w", err)
	}
	return mintData.Decimals, nil
}

func parseAtomic(s string) (uint64, error) {
	amount, err := strconv.ParseUint(s, 10, 64)
	if err != nil || strconv.FormatUint(amount, 10) != s {
		return 0, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, s)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", x402.ErrInvalidAmount)
	}
	return amount, nil
}

var _ x402.SchemeNetworkClient = (*ExactSvmClientV1)(nil)
