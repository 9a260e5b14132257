package svm

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// NetworkConfig describes one Solana network.
type NetworkConfig struct {
	// Name is the v1 network id carried in requirements.
	Name    string
	Cluster string
	RPCURL  string
	// USDC is the USDC mint, empty when the network has none.
	USDC string
}

var networkConfigs = map[string]NetworkConfig{
	SolanaMainnetV1: {
		Name:    SolanaMainnetV1,
		Cluster: ClusterMainnetBeta,
		RPCURL:  rpc.MainNetBeta_RPC,
		USDC:    USDCMainnetAddress,
	},
	SolanaDevnetV1: {
		Name:    SolanaDevnetV1,
		Cluster: ClusterDevnet,
		RPCURL:  rpc.DevNet_RPC,
		USDC:    USDCDevnetAddress,
	},
	SolanaTestnetV1: {
		Name:    SolanaTestnetV1,
		Cluster: ClusterTestnet,
		RPCURL:  rpc.TestNet_RPC,
	},
}

var clusterNetworks = map[string]string{
	ClusterMainnetBeta: SolanaMainnetV1,
	ClusterDevnet:      SolanaDevnetV1,
	ClusterTestnet:     SolanaTestnetV1,
}

// IsValidNetwork reports whether network is a known v1 network id.
func IsValidNetwork(network string) bool {
	_, ok := networkConfigs[network]
	return ok
}

// NetworkFromCluster maps a cluster name such as "mainnet-beta" to its network id.
// A network id is returned unchanged.
func NetworkFromCluster(cluster string) (string, error) {
	if network, ok := clusterNetworks[cluster]; ok {
		return network, nil
	}
	if IsValidNetwork(cluster) {
		return cluster, nil
	}
	return "", fmt.Errorf("unsupported solana cluster: %s", cluster)
}

// GetNetworkConfig returns the configuration for a network id or cluster name.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	name, err := NetworkFromCluster(network)
	if err != nil {
		return NetworkConfig{}, err
	}
	return networkConfigs[name], nil
}

// USDCMint returns the USDC mint of network.
func USDCMint(network string) (string, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	if config.USDC == "" {
		return "", fmt.Errorf("no USDC mint configured for network: %s", network)
	}
	return config.USDC, nil
}

// IsKnownUSDCMint reports whether mint is one of the USDC mints above.
func IsKnownUSDCMint(mint solana.PublicKey) bool {
	s := mint.String()
	return s == USDCMainnetAddress || s == USDCDevnetAddress
}

// ValidateSolanaAddress reports whether address is a base58 public key.
func ValidateSolanaAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}
