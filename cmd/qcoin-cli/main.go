// qcoin-cli is a command-line client for a running qcoind node.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/qubitcoin-project/qcoind/internal/rpc"
	"github.com/qubitcoin-project/qcoind/internal/rpcclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := "http://127.0.0.1:8545"
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "tx":
		cmdTx(client, cmdArgs)
	case "submittx":
		cmdSubmitTx(client, cmdArgs)
	case "balance":
		cmdBalance(client, cmdArgs)
	case "utxos":
		cmdUTXOs(client, cmdArgs)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "bans":
		cmdBans(client)
	case "claim":
		cmdClaim(client, cmdArgs)
	case "mining":
		cmdMining(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: qcoin-cli [--rpc <url>] <command> [args]

Commands:
  status                       Show chain height, tip and supply
  block <hash|height>          Show a block
  tx <hash>                    Show a confirmed or pending transaction
  submittx <file.json>         Submit a signed transaction (tx_submit)
  balance <address>            Show spendable balance for an address
  utxos <address>              List UTXOs for an address
  mempool                      Show mempool size and contents
  peers                        Show connected peers and node info
  bans                         Show banned peers
  claim stats                  Show claim registry stats
  claim status <btc_address>   Check whether a Bitcoin address has claimed
  mining template              Get a block template for external mining
  mining submit <file.json>    Submit a solved block
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}
	fmt.Printf("Chain:      %s\n", info.ChainID)
	fmt.Printf("Height:     %d\n", info.Height)
	fmt.Printf("Tip:        %s\n", info.TipHash)
	fmt.Printf("Genesis:    %s\n", info.GenesisHash)
	fmt.Printf("Difficulty: %s\n", info.Difficulty)
	fmt.Printf("Supply:     %d\n", info.Supply)
}

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli block <hash|height>")
	}
	var result rpc.BlockResult
	if height, err := strconv.ParseUint(args[0], 10, 64); err == nil {
		if err := client.Call("chain_getBlockByHeight", rpc.HeightParam{Height: height}, &result); err != nil {
			fatal("chain_getBlockByHeight: %v", err)
		}
	} else {
		if err := client.Call("chain_getBlockByHash", rpc.HashParam{Hash: args[0]}, &result); err != nil {
			fatal("chain_getBlockByHash: %v", err)
		}
	}
	printJSON(result)
}

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli tx <hash>")
	}
	var raw json.RawMessage
	if err := client.Call("chain_getTransaction", rpc.HashParam{Hash: args[0]}, &raw); err != nil {
		fatal("chain_getTransaction: %v", err)
	}
	fmt.Println(string(raw))
}

func cmdSubmitTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli submittx <file.json>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fatal("read %s: %v", args[0], err)
	}
	var params rpc.TxSubmitParam
	if err := json.Unmarshal(data, &params.Transaction); err != nil {
		fatal("decode transaction: %v", err)
	}
	var result rpc.TxSubmitResult
	if err := client.Call("tx_submit", params, &result); err != nil {
		fatal("tx_submit: %v", err)
	}
	fmt.Printf("Submitted: %s (fee %d)\n", result.TxID, result.Fee)
}

func cmdBalance(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli balance <address>")
	}
	var result rpc.BalanceResult
	if err := client.Call("utxo_getBalance", rpc.AddressParam{Address: args[0]}, &result); err != nil {
		fatal("utxo_getBalance: %v", err)
	}
	fmt.Printf("Address: %s\n", result.Address)
	fmt.Printf("Balance: %d\n", result.Balance)
}

func cmdUTXOs(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli utxos <address>")
	}
	var result rpc.UTXOListResult
	if err := client.Call("utxo_getByAddress", rpc.AddressParam{Address: args[0]}, &result); err != nil {
		fatal("utxo_getByAddress: %v", err)
	}
	fmt.Printf("Address: %s\n", result.Address)
	fmt.Printf("UTXOs:   %d\n", len(result.UTXOs))
	for _, u := range result.UTXOs {
		fmt.Printf("  %s:%d  %d\n", u.Outpoint.TxID, u.Outpoint.Index, u.Amount)
	}
}

func cmdMempool(client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call("mempool_getInfo", nil, &info); err != nil {
		fatal("mempool_getInfo: %v", err)
	}
	fmt.Printf("Count:       %d\n", info.Count)
	fmt.Printf("Bytes:       %d\n", info.Bytes)
	fmt.Printf("Min fee rate: %d\n", info.MinFeeRate)

	if info.Count > 0 {
		var content rpc.MempoolContentResult
		if err := client.Call("mempool_getContent", nil, &content); err != nil {
			fatal("mempool_getContent: %v", err)
		}
		for _, id := range content.TxIDs {
			fmt.Printf("  %s\n", id)
		}
	}
}

func cmdPeers(client *rpcclient.Client) {
	var node rpc.NodeInfoResult
	if err := client.Call("net_getNodeInfo", nil, &node); err != nil {
		fatal("net_getNodeInfo: %v", err)
	}
	fmt.Printf("Node ID: %s\n", node.ID)
	fmt.Printf("Listen:  %s\n", node.ListenAddr)

	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
	for _, p := range peers.Peers {
		dir := "inbound"
		if p.Outbound {
			dir = "outbound"
		}
		fmt.Printf("  %s %s (%s) height=%d\n", p.ID, p.Address, dir, p.Height)
	}
}

func cmdBans(client *rpcclient.Client) {
	var result rpc.BanListResult
	if err := client.Call("net_getBanList", nil, &result); err != nil {
		fatal("net_getBanList: %v", err)
	}
	fmt.Printf("Banned: %d\n", result.Count)
	for _, b := range result.Bans {
		fmt.Printf("  %s  score=%d  reason=%s  expires=%d\n", b.ID, b.Score, b.Reason, b.ExpiresAt)
	}
}

func cmdClaim(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli claim <stats|status> [btc_address]")
	}
	switch args[0] {
	case "stats":
		var result rpc.ClaimStatsResult
		if err := client.Call("claim_getStats", nil, &result); err != nil {
			fatal("claim_getStats: %v", err)
		}
		fmt.Printf("Claimed addresses: %d\n", result.ClaimedCount)
	case "status":
		if len(args) < 2 {
			fatal("Usage: qcoin-cli claim status <btc_address>")
		}
		var result rpc.ClaimStatusResult
		if err := client.Call("claim_isClaimed", rpc.BtcAddressParam{BtcAddress: args[1]}, &result); err != nil {
			fatal("claim_isClaimed: %v", err)
		}
		fmt.Printf("%s claimed: %v\n", result.BtcAddress, result.Claimed)
	default:
		fatal("Unknown claim command: %s", args[0])
	}
}

func cmdMining(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: qcoin-cli mining <template|submit> [file.json]")
	}
	switch args[0] {
	case "template":
		var result rpc.BlockTemplateResult
		if err := client.Call("mining_getBlockTemplate", nil, &result); err != nil {
			fatal("mining_getBlockTemplate: %v", err)
		}
		printJSON(result)
	case "submit":
		if len(args) < 2 {
			fatal("Usage: qcoin-cli mining submit <file.json>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			fatal("read %s: %v", args[1], err)
		}
		var params rpc.SubmitBlockParam
		if err := json.Unmarshal(data, &params.Block); err != nil {
			fatal("decode block: %v", err)
		}
		var result rpc.TxSubmitResult
		if err := client.Call("mining_submitBlock", params, &result); err != nil {
			fatal("mining_submitBlock: %v", err)
		}
		fmt.Printf("Accepted: %s\n", result.TxID)
	default:
		fatal("Unknown mining command: %s", args[0])
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode result: %v", err)
	}
	fmt.Println(string(data))
}
