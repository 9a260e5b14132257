package v1

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/vellumlabs/x402pay"
	svm "github.com/vellumlabs/x402pay/mechanisms/svm"
	svmsigner "github.com/vellumlabs/x402pay/signers/svm"
)

const testBlockhash = "4sGjMW1sUnHzSxGspuhpqLDx6wiyjNtZAMdL4VZHirAn"

type mockRPC struct {
	accounts     map[solana.PublicKey]*rpc.Account
	blockhashErr error
}

func (m *mockRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	acct, ok := m.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (m *mockRPC) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if m.blockhashErr != nil {
		return nil, m.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            solana.MustHashFromBase58(testBlockhash),
			LastValidBlockHeight: 150,
		},
	}, nil
}

type fixture struct {
	caller   *solana.Wallet
	payTo    solana.PublicKey
	feePayer solana.PublicKey
	mint     solana.PublicKey
	rpc      *mockRPC
	client   *ExactSvmClientV1
}

func newFixture(t *testing.T, sourceExists, destinationExists bool, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		caller:   solana.NewWallet(),
		payTo:    solana.NewWallet().PublicKey(),
		feePayer: solana.NewWallet().PublicKey(),
		mint:     solana.MustPublicKeyFromBase58(svm.USDCDevnetAddress),
		rpc:      &mockRPC{accounts: map[solana.PublicKey]*rpc.Account{}},
	}

	if sourceExists {
		ata, _, err := solana.FindAssociatedTokenAddress(f.caller.PublicKey(), f.mint)
		require.NoError(t, err)
		f.rpc.accounts[ata] = &rpc.Account{Owner: solana.TokenProgramID}
	}
	if destinationExists {
		ata, _, err := solana.FindAssociatedTokenAddress(f.payTo, f.mint)
		require.NoError(t, err)
		f.rpc.accounts[ata] = &rpc.Account{Owner: solana.TokenProgramID}
	}

	signer, err := svmsigner.NewClientSignerFromPrivateKey(f.caller.PrivateKey.String())
	require.NoError(t, err)

	f.client, err = NewExactSvmClientV1(signer, svm.SolanaDevnetV1, append([]Option{WithRPCClient(f.rpc)}, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) requirements(amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           svm.SolanaDevnetV1,
		MaxAmountRequired: amount,
		Resource:          "https://api.example.com/x402/pay?sku=img-gen-basic&model=openrouter%2Fauto",
		Description:       "Generate 768×768 PNG image from text prompt",
		MimeType:          "application/json",
		PayTo:             f.payTo.String(),
		MaxTimeoutSeconds: 600,
		Asset:             f.mint.String(),
		Extra: &x402.RequirementsExtra{
			TokenSymbol: "USDC",
			TokenName:   "USD Coin",
			FeePayer:    f.feePayer.String(),
		},
	}
}

func decode(t *testing.T, payload x402.PaymentPayload) *solana.Transaction {
	t.Helper()
	tx, err := svm.DecodeTransaction(payload.Payload.Transaction)
	require.NoError(t, err)
	return tx
}

func programs(tx *solana.Transaction) []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(tx.Message.Instructions))
	for _, inst := range tx.Message.Instructions {
		out = append(out, tx.Message.AccountKeys[inst.ProgramIDIndex])
	}
	return out
}

func TestCreatePaymentPayload_RecipientAccountExists(t *testing.T) {
	f := newFixture(t, true, true)

	payload, err := f.client.CreatePaymentPayload(context.Background(), f.requirements("30000"))
	require.NoError(t, err)

	assert.Equal(t, x402.X402Version, payload.X402Version)
	assert.Equal(t, x402.SchemeExact, payload.Scheme)
	assert.Equal(t, svm.SolanaDevnetV1, payload.Network)

	tx := decode(t, payload)
	assert.Equal(t, []solana.PublicKey{
		solana.ComputeBudget,
		solana.ComputeBudget,
		solana.TokenProgramID,
	}, programs(tx))

	assert.True(t, tx.Message.AccountKeys[0].Equals(f.feePayer), "fee payer must be the facilitator")
	assert.Equal(t, testBlockhash, tx.Message.RecentBlockhash.String())

	transfer := tx.Message.Instructions[2].Data
	require.Len(t, transfer, 10)
	assert.Equal(t, byte(12), transfer[0])
	assert.Equal(t, uint64(30000), binary.LittleEndian.Uint64(transfer[1:9]))
	assert.Equal(t, byte(6), transfer[9])

	limit := tx.Message.Instructions[0].Data
	require.Len(t, limit, 5)
	assert.Equal(t, byte(2), limit[0])
	assert.Equal(t, svm.DefaultComputeUnitLimit, binary.LittleEndian.Uint32(limit[1:5]))
}

func TestCreatePaymentPayload_CreatesRecipientAccount(t *testing.T) {
	f := newFixture(t, true, false)

	payload, err := f.client.CreatePaymentPayload(context.Background(), f.requirements("30000"))
	require.NoError(t, err)

	tx := decode(t, payload)
	assert.Equal(t, []solana.PublicKey{
		solana.ComputeBudget,
		solana.ComputeBudget,
		solana.SPLAssociatedTokenAccountProgramID,
		solana.TokenProgramID,
	}, programs(tx))

	create := tx.Message.Instructions[2]
	require.Len(t, create.Accounts, 6)
	assert.True(t, tx.Message.AccountKeys[create.Accounts[0]].Equals(f.caller.PublicKey()), "caller pays rent")
	assert.True(t, tx.Message.AccountKeys[create.Accounts[2]].Equals(f.payTo), "owner is the payTo wallet")
}

func TestCreatePaymentPayload_PartiallySigned(t *testing.T) {
	f := newFixture(t, true, true)

	payload, err := f.client.CreatePaymentPayload(context.Background(), f.requirements("50000"))
	require.NoError(t, err)

	tx := decode(t, payload)
	require.Len(t, tx.Signatures, 2)
	assert.True(t, tx.Signatures[0].IsZero(), "facilitator signature is left empty")

	message, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, tx.Signatures[1].Verify(f.caller.PublicKey(), message))
}

func TestCreatePaymentPayload_Errors(t *testing.T) {
	tests := []struct {
		name         string
		sourceExists bool
		opts         []Option
		mutate       func(*x402.PaymentRequirements)
		wantErr      error
	}{
		{
			name:         "missing fee payer",
			sourceExists: true,
			mutate:       func(r *x402.PaymentRequirements) { r.Extra.FeePayer = "" },
			wantErr:      x402.ErrMissingFeePayer,
		},
		{
			name:         "nil extra",
			sourceExists: true,
			mutate:       func(r *x402.PaymentRequirements) { r.Extra = nil },
			wantErr:      x402.ErrMissingFeePayer,
		},
		{
			name:         "network mismatch",
			sourceExists: true,
			mutate:       func(r *x402.PaymentRequirements) { r.Network = svm.SolanaMainnetV1 },
			wantErr:      x402.ErrNetworkMismatch,
		},
		{
			name:         "uninitialized source account",
			sourceExists: false,
			wantErr:      x402.ErrUninitializedAccount,
		},
		{
			name:         "non numeric amount",
			sourceExists: true,
			mutate:       func(r *x402.PaymentRequirements) { r.MaxAmountRequired = "0.03" },
			wantErr:      x402.ErrInvalidAmount,
		},
		{
			name:         "zero padded amount",
			sourceExists: true,
			mutate:       func(r *x402.PaymentRequirements) { r.MaxAmountRequired = "030000" },
			wantErr:      x402.ErrInvalidAmount,
		},
		{
			name:         "above limit",
			sourceExists: true,
			opts:         []Option{WithMaxAmount(10000)},
			wantErr:      x402.ErrAmountExceedsLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.sourceExists, true, tt.opts...)
			req := f.requirements("30000")
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.client.CreatePaymentPayload(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestCreatePaymentPayload_BlockhashFailure(t *testing.T) {
	f := newFixture(t, true, true)
	f.rpc.blockhashErr = errors.New("rpc unavailable")

	_, err := f.client.CreatePaymentPayload(context.Background(), f.requirements("30000"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash")
}

func TestNewExactSvmClientV1_AcceptsClusterNames(t *testing.T) {
	signer, err := svmsigner.NewClientSignerFromPrivateKey(solana.NewWallet().PrivateKey.String())
	require.NoError(t, err)

	client, err := NewExactSvmClientV1(signer, svm.ClusterMainnetBeta, WithRPCClient(&mockRPC{}))
	require.NoError(t, err)
	assert.Equal(t, svm.SolanaMainnetV1, client.Network())

	_, err = NewExactSvmClientV1(signer, "localnet")
	assert.Error(t, err)
}
