package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/config"
	"github.com/peer-mapper/trust-indexer/indexer"
	"github.com/peer-mapper/trust-indexer/relay"
)

// DialNode connects to the configured rpc endpoint. It returns nil
// without error when no endpoint is configured.
func DialNode(ctx context.Context, cfg config.Chain) (*chain.NodeClient, error) {
	if cfg.RPCURL == "" {
		log.Warn("chain rpc url not configured, chain access disabled")
		return nil, nil
	}

	return chain.DialNodeClient(ctx, cfg.RPCURL)
}

// NewListener builds the chain listener writing into s. Anchor lookups
// are enabled when a fee gate address is configured.
func NewListener(cfg config.Chain, node *chain.NodeClient, s indexer.Store) (*indexer.Listener, error) {
	if err := cfg.ValidateListener(); err != nil {
		return nil, err
	}

	easAddress := common.HexToAddress(cfg.EASAddress)
	var anchors indexer.AnchorReader
	if cfg.FeeGateAddress != "" {
		anchors = chain.NewFeeGate(common.HexToAddress(cfg.FeeGateAddress), node.ContractBackend())
	}

	return indexer.New(
		indexer.Config{
			EASAddress:    easAddress,
			SchemaUID:     common.HexToHash(cfg.SchemaUID),
			Confirmations: cfg.Confirmations,
			PollInterval:  cfg.PollInterval,
			StartBlock:    cfg.StartBlock,
			BlockRange:    cfg.BlockRange,
			Retry:         cfg.Retry,
		},
		node,
		chain.NewEAS(easAddress, node.ContractBackend()),
		anchors,
		s,
	), nil
}

// NewRelay builds the relay service sending from the configured relayer
// key.
func NewRelay(
	ctx context.Context,
	cfg config.Chain,
	relayCfg relay.Config,
	node *chain.NodeClient,
	recorder relay.IssuerRecorder,
) (*relay.Service, error) {
	if node == nil {
		return nil, errors.New("no chain rpc endpoint")
	}
	if err := cfg.ValidateRelay(); err != nil {
		return nil, err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.RelayerPrivateKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse relayer private key")
	}

	chainID, err := chain.Retry(ctx, cfg.Retry, "eth_chainId", node.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "read chain id")
	}

	transactor, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	if relayCfg.Retry == (chain.RetryPolicy{}) {
		relayCfg.Retry = cfg.Retry
	}

	log.Info("relay enabled",
		"relayer", transactor.From.Hex(),
		"feeGate", cfg.FeeGateAddress,
		"chainId", chainID.String(),
	)

	return relay.New(
		relayCfg,
		node,
		chain.NewFeeGate(common.HexToAddress(cfg.FeeGateAddress), node.ContractBackend()),
		transactor,
		recorder,
	), nil
}

// HandleSignals calls stop on the first interrupt and panics after ten
// more.
func HandleSignals(stop func()) {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down...")

	go stop()
	for i := 10; i > 0; i-- {
		<-sigc
		if i > 1 {
			log.Info("Already shutting down, interrupt more to panic", "times", i-1)
		}
	}
	panic("Panic closing the service")
}
