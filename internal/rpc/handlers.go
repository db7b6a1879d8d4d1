package rpc

import (
	"encoding/hex"

	"github.com/qubitcoin-project/qcoind/config"
	"github.com/qubitcoin-project/qcoind/internal/p2p"
	"github.com/qubitcoin-project/qcoind/pkg/types"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(req *Request) (interface{}, *Error) {
	difficulty, err := s.chain.GetDifficulty()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &ChainInfoResult{
		ChainID:     s.genesis.ChainID,
		Height:      s.chain.Height(),
		TipHash:     s.chain.TipHash().String(),
		GenesisHash: s.chain.GenesisHash().String(),
		Difficulty:  hex.EncodeToString(difficulty[:]),
		Supply:      s.chain.Supply(),
	}, nil
}

func (s *Server) handleChainGetBlockByHash(req *Request) (interface{}, *Error) {
	var params HashParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	hash, err := types.HexToHash(params.Hash)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	blk, err := s.chain.GetBlock(hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "block not found"}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (interface{}, *Error) {
	var params HeightParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	blk, err := s.chain.GetBlockByHeight(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "block not found"}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleChainGetTransaction(req *Request) (interface{}, *Error) {
	var params HashParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	id, err := types.HexToHash(params.Hash)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	transaction, err := s.chain.GetTransaction(id)
	if err != nil {
		if t := s.pool.Get(id); t != nil {
			return t, nil
		}
		return nil, &Error{Code: CodeNotFound, Message: "transaction not found"}
	}
	return transaction, nil
}

// ── UTXO endpoints ──────────────────────────────────────────────────────

func (s *Server) handleUTXOGet(req *Request) (interface{}, *Error) {
	var params OutpointParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	txID, err := types.HexToHash(params.TxID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	op := types.Outpoint{TxID: txID, Index: params.Index}
	u, err := s.utxos.Get(op)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "utxo not found"}
	}
	return u, nil
}

func (s *Server) handleUTXOGetByAddress(req *Request) (interface{}, *Error) {
	var params AddressParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	list, err := s.utxos.GetByAddress(addr)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &UTXOListResult{Address: params.Address, UTXOs: list}, nil
}

func (s *Server) handleUTXOGetBalance(req *Request) (interface{}, *Error) {
	var params AddressParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	balance, err := s.chain.GetBalance(addr)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &BalanceResult{Address: params.Address, Balance: balance}, nil
}

// ── Transaction endpoints ───────────────────────────────────────────────

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	if params.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction required"}
	}
	transaction := params.Transaction

	fee, err := s.pool.Add(transaction, s.utxos, s.claimedChecker())
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	if s.p2pNode != nil {
		s.p2pNode.Broadcast(p2p.InvItem{Type: p2p.InvTypeTx, Hash: transaction.ID})
	}

	return &TxSubmitResult{TxID: transaction.ID.String(), Fee: fee}, nil
}

func (s *Server) handleTxValidate(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	if params.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction required"}
	}
	transaction := params.Transaction

	if transaction.IsClaim() {
		if err := transaction.Validate(); err != nil {
			return &TxValidateResult{Valid: false, Error: err.Error()}, nil
		}
		return &TxValidateResult{Valid: true}, nil
	}

	fee, err := transaction.ValidateWithUTXOs(s.utxos)
	if err != nil {
		return &TxValidateResult{Valid: false, Error: err.Error()}, nil
	}
	return &TxValidateResult{Valid: true, Fee: fee}, nil
}

// ── Mempool endpoints ───────────────────────────────────────────────────

func (s *Server) handleMempoolGetInfo(req *Request) (interface{}, *Error) {
	return &MempoolInfoResult{
		Count:      s.pool.Size(),
		Bytes:      s.pool.SizeBytes(),
		MinFeeRate: s.pool.MinFeeRate(),
	}, nil
}

func (s *Server) handleMempoolGetContent(req *Request) (interface{}, *Error) {
	txs := s.pool.GetTransactionsForBlock()
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.ID.String())
	}
	return &MempoolContentResult{TxIDs: ids}, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(req *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{}, nil
	}
	peers := s.p2pNode.PeerList()
	infos := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, NewPeerInfo(p))
	}
	return &PeerInfoResult{Count: len(infos), Peers: infos}, nil
}

func (s *Server) handleNetGetNodeInfo(req *Request) (interface{}, *Error) {
	result := &NodeInfoResult{}
	if s.p2pNode != nil {
		result.ID = string(s.p2pNode.ID())
		result.ListenAddr = s.p2pNode.Addr()
		result.PeerCount = s.p2pNode.PeerCount()
	}
	return result, nil
}

func (s *Server) handleNetGetBanList(req *Request) (interface{}, *Error) {
	if s.banManager == nil {
		return &BanListResult{}, nil
	}
	records := s.banManager.BanList()
	entries := make([]BanEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, BanEntry{
			ID:        string(r.ID),
			Reason:    r.Reason,
			Score:     r.Score,
			BannedAt:  r.BannedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return &BanListResult{Count: len(entries), Bans: entries}, nil
}

// ── Claim endpoints ─────────────────────────────────────────────────────

func (s *Server) handleClaimGetStats(req *Request) (interface{}, *Error) {
	stats, err := s.chain.GetClaimStats()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &ClaimStatsResult{ClaimedCount: stats.ClaimedCount}, nil
}

func (s *Server) handleClaimIsClaimed(req *Request) (interface{}, *Error) {
	var params BtcAddressParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	claimed, err := s.chain.IsClaimed(params.BtcAddress)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &ClaimStatusResult{BtcAddress: params.BtcAddress, Claimed: claimed}, nil
}

// ── Mining endpoints ────────────────────────────────────────────────────

func (s *Server) handleMiningGetBlockTemplate(req *Request) (interface{}, *Error) {
	if s.miner == nil {
		return nil, &Error{Code: CodeInternalError, Message: "mining is not enabled on this node"}
	}
	candidate, err := s.miner.AssembleCandidate(nil)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	var totalFees uint64
	if len(candidate.Transactions) > 0 {
		coinbaseAmount := candidate.Transactions[0].Outputs[0].Amount
		subsidy := config.Subsidy(candidate.Height)
		if coinbaseAmount > subsidy {
			totalFees = coinbaseAmount - subsidy
		}
	}
	return &BlockTemplateResult{
		Height:    candidate.Height,
		Header:    candidate.Header,
		TxCount:   len(candidate.Transactions),
		TotalFees: totalFees,
	}, nil
}

func (s *Server) handleMiningSubmitBlock(req *Request) (interface{}, *Error) {
	var params SubmitBlockParam
	if perr := parseParams(req, &params); perr != nil {
		return nil, perr
	}
	if params.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block required"}
	}
	if err := s.chain.AddBlock(params.Block); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}
	if s.p2pNode != nil {
		s.p2pNode.Broadcast(p2p.InvItem{Type: p2p.InvTypeBlock, Hash: params.Block.Hash})
	}
	return &TxSubmitResult{TxID: params.Block.Hash.String()}, nil
}

// ── helpers ─────────────────────────────────────────────────────────────

// claimedChecker adapts chain.IsClaimed's error-returning signature to the
// bool-only callback mempool.Pool.Add expects; a lookup failure is treated
// as not-yet-claimed so the transaction still gets chain-level validation.
func (s *Server) claimedChecker() func(string) bool {
	return func(btcAddress string) bool {
		claimed, err := s.chain.IsClaimed(btcAddress)
		if err != nil {
			return false
		}
		return claimed
	}
}
