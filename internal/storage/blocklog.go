package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BlockLog is the append-only persistence sink described in spec §4.5/§6:
// one JSON-encoded block per line (binary fields hex-encoded via their own
// MarshalJSON), plus a small metadata sidecar file. It is separate from
// the indexed BlockStore (which serves lookups); the log exists purely so
// a restart can replay every record and rebuild state from scratch,
// independent of whatever index happens to be on disk.
//
// Append is synchronous and durable (fsync'd) but its failure is logged,
// never rolled back against: per spec §4.5/§7, storage errors don't undo
// an in-memory commit, and the next successful append catches up.
type BlockLog struct {
	mu       sync.Mutex
	dir      string
	logPath  string
	metaPath string
	file     *os.File
}

// Metadata is the sidecar file recording the log's last-known chain
// position, read back on restart before replay begins.
type Metadata struct {
	Height      uint64 `json:"height"`
	Difficulty  string `json:"difficulty"` // hex-encoded 32-byte target
	GenesisHash string `json:"genesisHash"`
}

// OpenBlockLog opens (creating if necessary) the append-only block log and
// metadata sidecar under dir.
func OpenBlockLog(dir string) (*BlockLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create block log dir: %w", err)
	}
	logPath := filepath.Join(dir, "blocks.ndjson")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open block log: %w", err)
	}
	return &BlockLog{
		dir:      dir,
		logPath:  logPath,
		metaPath: filepath.Join(dir, "meta.json"),
		file:     f,
	}, nil
}

// Append writes one record to the log as a single NDJSON line and fsyncs
// it, then updates the metadata sidecar to the new height/difficulty.
func (l *BlockLog) Append(record interface{}, height uint64, difficultyHex, genesisHashHex string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal block record: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write block record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync block log: %w", err)
	}

	meta := Metadata{Height: height, Difficulty: difficultyHex, GenesisHash: genesisHashHex}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(l.metaPath, metaData, 0644)
}

// ReadMetadata loads the metadata sidecar, if present. A missing file is
// not an error — it just means no block has ever been appended.
func (l *BlockLog) ReadMetadata() (Metadata, bool, error) {
	data, err := os.ReadFile(l.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false, fmt.Errorf("parse metadata: %w", err)
	}
	return meta, true, nil
}

// Replay reads every record in the log, in append order, invoking fn with
// the raw JSON of each so the caller can unmarshal into its own block type
// and re-execute validation. Replay is how a node rebuilds its indexed
// block store and UTXO set after, e.g., losing the badger index but
// keeping the append-only log.
func (l *BlockLog) Replay(fn func(raw json.RawMessage) error) error {
	f, err := os.Open(l.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open block log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := fn(json.RawMessage(append([]byte(nil), raw...))); err != nil {
			return fmt.Errorf("replay line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// Close closes the underlying log file.
func (l *BlockLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
