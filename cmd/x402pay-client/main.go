// Command x402pay-client pays for one API call: it POSTs the request, builds
// a USDC payment for the 402 offer, and prints the paid response.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	x402 "github.com/vellumlabs/x402pay"
	x402http "github.com/vellumlabs/x402pay/http"
	svmv1 "github.com/vellumlabs/x402pay/mechanisms/svm/v1"
	"github.com/vellumlabs/x402pay/pkg/logging"
	svmsigner "github.com/vellumlabs/x402pay/signers/svm"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "x402pay server URL")
	sku := flag.String("sku", "urlsum", "SKU to buy")
	model := flag.String("model", "", "Model (server default when empty)")
	quoteID := flag.String("quote", "", "Quote id to pay")
	input := flag.String("input", "", "JSON request body, or @file")
	network := flag.String("network", "devnet", "Solana cluster or v1 network id")
	rpcURL := flag.String("rpc", "", "Solana RPC URL (network default when empty)")
	keypair := flag.String("keypair", "", "solana-keygen keypair file")
	limit := flag.String("max", "1000000", "Refuse to pay more than this many atomic units")
	idempotencyKey := flag.String("idempotency-key", "", "Idempotency-Key header (generated when empty)")
	timeout := flag.Duration("timeout", 3*time.Minute, "Overall request timeout")
	verbose := flag.Bool("v", false, "Log payment steps")
	flag.Parse()

	if err := run(options{
		server:         *server,
		sku:            *sku,
		model:          *model,
		quoteID:        *quoteID,
		input:          *input,
		network:        *network,
		rpcURL:         *rpcURL,
		keypair:        *keypair,
		limit:          *limit,
		idempotencyKey: *idempotencyKey,
		timeout:        *timeout,
		verbose:        *verbose,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type options struct {
	server, sku, model, quoteID, input string
	network, rpcURL, keypair, limit    string
	idempotencyKey                     string
	timeout                            time.Duration
	verbose                            bool
}

func run(opts options) error {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	signer, err := loadSigner(opts.keypair)
	if err != nil {
		return err
	}

	scheme, err := svmv1.NewExactSvmClientV1(signer, opts.network,
		svmv1.WithRPCURL(opts.rpcURL),
		svmv1.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	payer := x402.NewPayingClient(
		x402.WithScheme(scheme),
		x402.WithPaymentLimit(opts.limit),
		x402.WithClientLogger(logger),
	)

	body, err := readInput(opts.input)
	if err != nil {
		return err
	}

	key := opts.idempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	logger.Debug("paying",
		zap.String("payer", signer.Address().String()),
		zap.String("network", scheme.Network()),
		zap.String("idempotencyKey", key))

	resp, err := x402http.PostWithPayment(ctx, nil, payer, payURL(opts), body, key)
	if err != nil {
		return err
	}

	if resp.Payment != nil {
		fmt.Fprintf(os.Stderr, "paid: txSig=%s\n", resp.Payment.TxSig)
	}
	fmt.Fprintf(os.Stderr, "status: %d\n", resp.StatusCode)

	var pretty interface{}
	if json.Unmarshal(resp.Body, &pretty) == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}
	_, err = os.Stdout.Write(resp.Body)
	return err
}

// loadSigner prefers the keypair file, then a base58 key in the environment.
func loadSigner(keypair string) (*svmsigner.ClientSigner, error) {
	if keypair != "" {
		return svmsigner.NewClientSignerFromKeygenFile(keypair)
	}
	if key := os.Getenv("X402PAY_CLIENT_PRIVATE_KEY"); key != "" {
		return svmsigner.NewClientSignerFromPrivateKey(key)
	}
	return nil, fmt.Errorf("a keypair is required: use -keypair or X402PAY_CLIENT_PRIVATE_KEY")
}

func readInput(input string) ([]byte, error) {
	if input == "" {
		return []byte("{}"), nil
	}
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	if input[0] == '@' {
		return os.ReadFile(input[1:])
	}
	return []byte(input), nil
}

func payURL(opts options) string {
	q := url.Values{}
	q.Set("sku", opts.sku)
	if opts.model != "" {
		q.Set("model", opts.model)
	}
	if opts.quoteID != "" {
		q.Set("quoteId", opts.quoteID)
	}
	return opts.server + "/pay?" + q.Encode()
}
