package indexer

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/chain"
	"github.com/peer-mapper/trust-indexer/database/orm"
)

// Node is the chain access the listener needs.
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Registry reads attestation records from the registry contract.
type Registry interface {
	GetAttestation(ctx context.Context, uid common.Hash) (*chain.Attestation, error)
}

// AnchorReader reads the canonical latest uid of (issuer, subject).
type AnchorReader interface {
	LastUID(ctx context.Context, issuer common.Address, subjectID string) (common.Hash, error)
}

// Store is the canonical store surface written by the listener.
type Store interface {
	UpsertAttestation(ctx context.Context, record *orm.Attestation, anchorUID string) (bool, error)
	DeleteByUID(ctx context.Context, uid string) (bool, error)
	ChainCursor(ctx context.Context) (uint64, bool, error)
	SaveChainCursor(ctx context.Context, next uint64) error
}

// Config tunes the listener.
type Config struct {
	EASAddress    common.Address
	SchemaUID     common.Hash
	Confirmations uint64
	PollInterval  time.Duration
	StartBlock    uint64
	BlockRange    uint64
	Retry         chain.RetryPolicy
}

type batch struct {
	logs []types.Log
	next uint64
}

// Listener follows the registry events of one schema and feeds them
// into the canonical store. A producer goroutine polls the chain and a
// worker goroutine applies the batches it emits.
type Listener struct {
	cfg      Config
	node     Node
	registry Registry
	anchors  AnchorReader
	store    Store

	batches chan batch
	quit    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once

	next            uint64
	anchorFallbacks atomic.Uint64
	skippedLogs     atomic.Uint64
	applied         atomic.Uint64
}

// New returns a listener. anchors may be nil, in which case every write
// uses latest-wins ordering.
func New(cfg Config, node Node, registry Registry, anchors AnchorReader, store Store) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 6 * time.Second
	}
	if cfg.BlockRange == 0 {
		cfg.BlockRange = 2000
	}

	return &Listener{
		cfg:      cfg,
		node:     node,
		registry: registry,
		anchors:  anchors,
		store:    store,
		batches:  make(chan batch, 1),
		quit:     make(chan struct{}),
	}
}

// Start resumes from the saved cursor and launches the loops.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("listener already started")
	}
	select {
	case <-l.quit:
		return errors.New("listener stopped")
	default:
	}

	next, ok, err := l.store.ChainCursor(ctx)
	if err != nil {
		return errors.Wrap(err, "read chain cursor")
	}
	if !ok || next < l.cfg.StartBlock {
		next = l.cfg.StartBlock
	}
	l.next = next
	l.started = true

	log.Info("listener started",
		"registry", l.cfg.EASAddress.Hex(),
		"schema", l.cfg.SchemaUID.Hex(),
		"from", next,
	)

	l.wg.Add(2)
	go l.poll(ctx)
	go l.work(ctx)

	return nil
}

// Stop ends both loops and waits for them. It is safe to call more than
// once and before Start.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
	l.wg.Wait()
}

// AnchorFallbacks counts attestations written with latest-wins ordering
// because the anchor lookup failed.
func (l *Listener) AnchorFallbacks() uint64 {
	return l.anchorFallbacks.Load()
}

// Applied counts attestation and revocation writes that changed the
// store.
func (l *Listener) Applied() uint64 {
	return l.applied.Load()
}

// SkippedLogs counts logs abandoned after their retries were spent.
func (l *Listener) SkippedLogs() uint64 {
	return l.skippedLogs.Load()
}

func (l *Listener) poll(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		l.scan(ctx)

		select {
		case <-l.quit:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
		}
	}
}

func (l *Listener) scan(ctx context.Context) {
	head, err := chain.Retry(ctx, l.cfg.Retry, "eth_blockNumber", l.node.BlockNumber)
	if err != nil {
		log.Error("request chain head failed", "error", err)
		return
	}

	if head < l.cfg.Confirmations {
		return
	}
	safeHead := head - l.cfg.Confirmations

	for l.next <= safeHead {
		from := l.next
		to := from + l.cfg.BlockRange - 1
		if to > safeHead {
			to = safeHead
		}

		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{l.cfg.EASAddress},
			Topics: [][]common.Hash{
				{chain.AttestedTopic, chain.RevokedTopic},
				nil,
				nil,
				{l.cfg.SchemaUID},
			},
		}
		logs, err := chain.Retry(ctx, l.cfg.Retry, "eth_getLogs",
			func(ctx context.Context) ([]types.Log, error) {
				return l.node.FilterLogs(ctx, query)
			})
		if err != nil {
			log.Error("request registry logs failed",
				"from", from,
				"to", to,
				"error", err,
			)
			return
		}

		select {
		case l.batches <- batch{logs: logs, next: to + 1}:
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		}
		l.next = to + 1
	}
}

func (l *Listener) work(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-l.quit:
			return

		case <-ctx.Done():
			return

		case b := <-l.batches:
			for _, entry := range b.logs {
				l.handleLog(ctx, entry)
			}

			if err := l.store.SaveChainCursor(ctx, b.next); err != nil {
				log.Error("save chain cursor failed", "next", b.next, "error", err)
			}
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, entry types.Log) {
	if entry.Removed {
		return
	}

	ev, err := chain.ParseAttestationEvent(entry)
	if err != nil {
		l.skippedLogs.Add(1)
		log.Error("skip malformed registry log",
			"tx", entry.TxHash.Hex(),
			"index", entry.Index,
			"error", err,
		)
		return
	}

	var applied bool
	if ev.Revoked {
		applied, err = l.processRevoked(ctx, ev)
	} else {
		applied, err = l.processAttested(ctx, ev)
	}
	if applied {
		l.applied.Add(1)
	}
	if err != nil {
		l.skippedLogs.Add(1)
		log.Error("skip registry log",
			"uid", ev.UID.Hex(),
			"revoked", ev.Revoked,
			"block", ev.BlockNumber,
			"error", err,
		)
	}
}
