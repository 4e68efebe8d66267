package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// NodeClient reads chain state from an EVM JSON-RPC endpoint.
type NodeClient struct {
	eth *ethclient.Client
}

// DialNodeClient connects to the JSON-RPC endpoint.
func DialNodeClient(ctx context.Context, endpoint string) (*NodeClient, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc endpoint")
	}

	return &NodeClient{eth: eth}, nil
}

// BlockNumber requests the chain head number.
func (n *NodeClient) BlockNumber(ctx context.Context) (uint64, error) {
	return n.eth.BlockNumber(ctx)
}

// BlockTime requests the timestamp of the block at number.
func (n *NodeClient) BlockTime(ctx context.Context, number uint64) (uint64, error) {
	header, err := n.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	return header.Time, nil
}

// FilterLogs runs eth_getLogs.
func (n *NodeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return n.eth.FilterLogs(ctx, q)
}

// ChainID requests the chain id used for typed data domains.
func (n *NodeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return n.eth.ChainID(ctx)
}

// WaitMined blocks until tx is mined or ctx is done.
func (n *NodeClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, n.eth, tx)
}

// ContractBackend exposes the client to contract bindings.
func (n *NodeClient) ContractBackend() bind.ContractBackend {
	return n.eth
}

// Close releases the underlying RPC connection.
func (n *NodeClient) Close() {
	n.eth.Close()
}
