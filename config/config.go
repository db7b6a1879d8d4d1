// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes.
//   - Node settings: runtime configuration, can vary per node.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Mining
	Mining MiningConfig

	// Snapshot ingestion (claim registry seed)
	SnapshotPath string `conf:"snapshotpath"`

	// LocalOnly disables P2P networking entirely (single-node testing/devnets).
	LocalOnly bool `conf:"localonly"`

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled     bool     `conf:"p2p.enabled"`
	ListenAddr  string   `conf:"p2p.listen"`
	Port        int      `conf:"p2p.port"`
	Seeds       []string `conf:"p2p.seeds"`
	MaxPeers    int      `conf:"p2p.maxpeers"`
	MaxOutbound int      `conf:"p2p.maxoutbound"`
	NoDiscover  bool     `conf:"p2p.nodiscover"`
	ClearBans   bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Enabled  bool   `conf:"mining.enabled"`
	Coinbase string `conf:"mining.coinbase"` // Destination address for block rewards.
	Message  string `conf:"mining.message"`  // Embedded into the coinbase input's publicKey field.
	Threads  int    `conf:"mining.threads"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.qcoind
//	macOS:   ~/Library/Application Support/Qcoind
//	Windows: %APPDATA%\Qcoind
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qcoind"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Qcoind")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Qcoind")
		}
		return filepath.Join(home, "AppData", "Roaming", "Qcoind")
	default:
		return filepath.Join(home, ".qcoind")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the blocks storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// UTXODir returns the UTXO database directory.
func (c *Config) UTXODir() string {
	return filepath.Join(c.ChainDataDir(), "utxo")
}

// PeersFile returns a peer registry file path. No code reads or writes this
// file; the registry is kept in the chain database by p2p.PeerStore.
func (c *Config) PeersFile() string {
	return filepath.Join(c.ChainDataDir(), "peers.json")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "qcoind.conf")
}
