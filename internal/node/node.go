// Package node wires together storage, chain state, the mempool, the
// optional miner, the peer-to-peer network and the RPC server into a
// single runnable process.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/chain"
	"github.com/qubitcoin-project/qcoind/internal/consensus"
	klog "github.com/qubitcoin-project/qcoind/internal/log"
	"github.com/qubitcoin-project/qcoind/internal/mempool"
	"github.com/qubitcoin-project/qcoind/internal/miner"
	"github.com/qubitcoin-project/qcoind/internal/p2p"
	"github.com/qubitcoin-project/qcoind/internal/rpc"
	"github.com/qubitcoin-project/qcoind/internal/snapshot"
	"github.com/qubitcoin-project/qcoind/internal/storage"
	"github.com/qubitcoin-project/qcoind/internal/utxo"
	"github.com/qubitcoin-project/qcoind/pkg/block"
	"github.com/qubitcoin-project/qcoind/pkg/tx"
	"github.com/qubitcoin-project/qcoind/pkg/types"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized QubitCoin full node: chain engine, mempool,
// optional miner, peer-to-peer network and RPC server.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	db         storage.DB
	blockLog   *storage.BlockLog
	utxoStore  *utxo.Store
	claimStore *utxo.ClaimStore
	pow        *consensus.PoW
	chain      *chain.Chain
	pool       *mempool.Pool

	minerInst   *miner.Miner
	miningMu    sync.Mutex
	miningCancel context.CancelFunc

	p2pNode   *p2p.Node
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds and initializes a Node: opens storage, recovers or seeds
// chain state, wires the mempool, optional miner, P2P network and RPC
// server. It does not start any background goroutines; call Start for
// that.
func New(cfg *config.Config) (*Node, error) {
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	genesis := config.GenesisFor(cfg.Network)
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Msg("starting qcoind")

	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.ChainDataDir(), err)
	}

	blockLog, err := storage.OpenBlockLog(cfg.BlocksDir())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open block log: %w", err)
	}

	utxoStore := utxo.NewStore(db)
	claimStore := utxo.NewClaimStore(db)
	pow := consensus.NewPoW(consensus.InitialTarget)
	pow.Threads = cfg.Mining.Threads

	ch, err := chain.New(db, utxoStore, claimStore, pow)
	if err != nil {
		blockLog.Close()
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}

	state := ch.State()
	if state.IsGenesis() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			blockLog.Close()
			db.Close()
			return nil, fmt.Errorf("init from genesis: %w", err)
		}
		logger.Info().Msg("chain initialized from genesis")
	} else {
		logger.Info().
			Uint64("height", ch.Height()).
			Str("tip", ch.TipHash().String()[:16]+"...").
			Msg("chain resumed from database")
	}

	if cfg.SnapshotPath != "" {
		snap, err := snapshot.Load(cfg.SnapshotPath)
		if err != nil {
			blockLog.Close()
			db.Close()
			return nil, fmt.Errorf("load claim snapshot: %w", err)
		}
		ch.SetSnapshot(snap)
		logger.Info().
			Int("entries", snap.Len()).
			Str("btc_block", snap.BlockHash()).
			Msg("claim snapshot loaded")
	}

	pool := mempool.New(mempool.MinFeeRate)

	n := &Node{
		cfg:        cfg,
		genesis:    genesis,
		logger:     logger,
		db:         db,
		blockLog:   blockLog,
		utxoStore:  utxoStore,
		claimStore: claimStore,
		pow:        pow,
		chain:      ch,
		pool:       pool,
	}

	if cfg.Mining.Enabled {
		coinbase, err := resolveCoinbase(cfg.Mining.Coinbase)
		if err != nil {
			blockLog.Close()
			db.Close()
			return nil, err
		}
		n.minerInst = miner.New(ch, pow, pool, pool, coinbase)
		logger.Info().Str("coinbase", coinbase.String()).Msg("mining enabled")
	}

	if cfg.P2P.Enabled && !cfg.LocalOnly {
		p2pNode, err := p2p.New(p2p.Config{
			ListenAddr:  cfg.P2P.ListenAddr,
			Port:        cfg.P2P.Port,
			Seeds:       cfg.P2P.Seeds,
			MaxPeers:    cfg.P2P.MaxPeers,
			MaxOutbound: cfg.P2P.MaxOutbound,
			NoDiscover:  cfg.P2P.NoDiscover,
			DB:          db,
			DataDir:     cfg.ChainDataDir(),
		})
		if err != nil {
			blockLog.Close()
			db.Close()
			return nil, fmt.Errorf("create p2p node: %w", err)
		}

		p2pNode.SetGenesisHash(ch.GenesisHash())
		p2pNode.SetChain(ch)
		p2pNode.SetBlockHandler(n.handleInboundBlock)
		p2pNode.SetTxHandler(n.handleInboundTx)
		p2pNode.SetTxProvider(func(id types.Hash) *tx.Transaction {
			if t := pool.Get(id); t != nil {
				return t
			}
			t, err := ch.GetTransaction(id)
			if err != nil {
				return nil
			}
			return t
		})

		if cfg.P2P.ClearBans {
			p2pNode.ClearBans()
		}

		n.p2pNode = p2pNode
	} else {
		logger.Warn().Msg("p2p disabled; node will run offline")
	}

	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		rpcServer := rpc.New(addr, ch, utxoStore, pool, n.p2pNode, genesis, cfg.RPC)
		if n.minerInst != nil {
			rpcServer.SetMiner(n.minerInst)
		}
		if n.p2pNode != nil {
			rpcServer.SetBanManager(n.p2pNode.BanManager())
		}
		n.rpcServer = rpcServer
	}

	return n, nil
}

// Start launches networking, RPC, chain notification handling and (if
// enabled) the mining loop, then returns immediately.
func (n *Node) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			return fmt.Errorf("start p2p: %w", err)
		}
		n.logger.Info().
			Str("id", string(n.p2pNode.ID())).
			Int("port", n.cfg.P2P.Port).
			Msg("p2p node started")
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start rpc: %w", err)
		}
		n.logger.Info().Str("addr", n.rpcServer.Addr()).Msg("rpc server started")
	}

	n.wg.Add(1)
	go n.watchTipChanges()

	if n.minerInst != nil {
		n.StartMining()
	}

	return nil
}

// Stop shuts down the mining loop, RPC server, P2P network and storage,
// in that order.
func (n *Node) Stop() {
	n.StopMining()

	if n.cancel != nil {
		n.cancel()
	}

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("rpc shutdown error")
		}
	}

	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}

	n.wg.Wait()

	if err := n.blockLog.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("block log close error")
	}
	if err := n.db.Close(); err != nil {
		n.logger.Warn().Err(err).Msg("database close error")
	}
}

// Height returns the current chain tip height.
func (n *Node) Height() uint64 { return n.chain.Height() }

// RPCAddr returns the bound RPC listen address, or "" if RPC is disabled.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Chain exposes the underlying chain engine for embedders that need
// direct read access (e.g. a wallet or indexer running in-process).
func (n *Node) Chain() *chain.Chain { return n.chain }

// watchTipChanges drains the chain's notification channel: every new tip
// gets appended to the replay log, has its transactions pruned from the
// mempool, and (if P2P is active) is announced to peers.
func (n *Node) watchTipChanges() {
	defer n.wg.Done()
	ch := n.chain.Notifications()
	for {
		select {
		case <-n.ctx.Done():
			return
		case tc, ok := <-ch:
			if !ok {
				return
			}
			n.onTipChanged(tc)
		}
	}
}

func (n *Node) onTipChanged(tc chain.TipChanged) {
	blk := tc.NewTip

	difficulty, err := n.chain.GetDifficulty()
	difficultyHex := ""
	if err == nil {
		difficultyHex = formatDifficulty(difficulty)
	}
	if err := n.blockLog.Append(blk, blk.Height, difficultyHex, n.chain.GenesisHash().String()); err != nil {
		n.logger.Warn().Err(err).Msg("block log append failed")
	}

	ids := make([]types.Hash, 0, len(blk.Transactions))
	for _, t := range blk.Transactions {
		ids = append(ids, t.ID)
	}
	n.pool.Remove(ids)
	n.pool.Revalidate(n.utxoStore, n.claimedChecker())

	n.logger.Info().
		Uint64("height", blk.Height).
		Str("hash", blk.Hash.String()[:16]+"...").
		Int("txs", len(blk.Transactions)).
		Int("reorged", len(tc.UndoneBlocks)).
		Msg("tip changed")

	if n.p2pNode != nil {
		n.p2pNode.Broadcast(p2p.InvItem{Type: p2p.InvTypeBlock, Hash: blk.Hash})
	}
}

// handleInboundBlock is the P2P block handler: it just forwards to
// chain.AddBlock, which contains all validation.
func (n *Node) handleInboundBlock(from p2p.PeerID, blk *block.Block) error {
	return n.chain.AddBlock(blk)
}

// handleInboundTx is the P2P transaction handler: admission into the
// mempool doubles as validation.
func (n *Node) handleInboundTx(from p2p.PeerID, transaction *tx.Transaction) error {
	_, err := n.pool.Add(transaction, n.utxoStore, n.claimedChecker())
	return err
}

func (n *Node) claimedChecker() func(string) bool {
	return func(btcAddress string) bool {
		claimed, err := n.chain.IsClaimed(btcAddress)
		if err != nil {
			return false
		}
		return claimed
	}
}

// StartMining launches the block-production loop in the background. It is
// a no-op if mining is not configured or already running.
func (n *Node) StartMining() {
	n.miningMu.Lock()
	defer n.miningMu.Unlock()
	if n.minerInst == nil || n.miningCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(n.ctx)
	n.miningCancel = cancel
	n.wg.Add(1)
	go n.mineLoop(ctx)
}

// StopMining cancels the block-production loop, if running.
func (n *Node) StopMining() {
	n.miningMu.Lock()
	cancel := n.miningCancel
	n.miningCancel = nil
	n.miningMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (n *Node) mineLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidate, err := n.minerInst.AssembleCandidate([]byte(n.cfg.Mining.Message))
		if err != nil {
			n.logger.Warn().Err(err).Msg("assemble candidate failed")
			return
		}

		if err := n.minerInst.Mine(ctx, candidate); err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn().Err(err).Msg("mining failed")
			continue
		}

		if err := n.chain.AddBlock(candidate); err != nil {
			n.logger.Warn().Err(err).Msg("mined block rejected by own chain")
			continue
		}

		n.logger.Info().
			Uint64("height", candidate.Height).
			Str("hash", candidate.Hash.String()[:16]+"...").
			Msg("block mined")
	}
}
