package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"blockfs/pkg/types"
)

var (
	ErrBlockMissing     = errors.New("block not stored")
	ErrCapacityExceeded = errors.New("insufficient capacity")
	ErrCorruptBlock     = errors.New("block checksum mismatch")
)

// Checksum is the hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to expected. An empty expected
// checksum always verifies.
func VerifyChecksum(data []byte, expected string) bool {
	return expected == "" || Checksum(data) == expected
}

// BlockStore keeps blocks as flat files under dir, one file per block id.
type BlockStore struct {
	dir      string
	capacity int64

	mu    sync.RWMutex
	sizes map[types.BlockID]int64
	used  int64
}

// OpenBlockStore creates dir if needed and indexes blocks already on disk.
func OpenBlockStore(dir string, capacity int64) (*BlockStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create block directory: %w", err)
	}

	s := &BlockStore{
		dir:      dir,
		capacity: capacity,
		sizes:    make(map[types.BlockID]int64),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan block directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s.sizes[types.BlockID(e.Name())] = info.Size()
		s.used += info.Size()
	}
	return s, nil
}

func (s *BlockStore) path(id types.BlockID) (string, error) {
	name := string(id)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid block id %q", id)
	}
	return filepath.Join(s.dir, name), nil
}

// Put writes data for id and returns its checksum. Rewriting an existing
// block replaces it.
func (s *BlockStore) Put(id types.BlockID, data []byte) (string, error) {
	p, err := s.path(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.sizes[id]
	if s.used-previous+int64(len(data)) > s.capacity {
		return "", fmt.Errorf("%w: %d bytes requested, %d free", ErrCapacityExceeded, len(data), s.capacity-s.used)
	}

	tmp := filepath.Join(s.dir, "."+string(id)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write block %s: %w", id, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to install block %s: %w", id, err)
	}

	s.sizes[id] = int64(len(data))
	s.used += int64(len(data)) - previous
	return Checksum(data), nil
}

func (s *BlockStore) Get(id types.BlockID) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	_, ok := s.sizes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlockMissing, id)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", id, err)
	}
	return data, nil
}

// Delete removes id. Missing blocks are not an error.
func (s *BlockStore) Delete(id types.BlockID) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size, ok := s.sizes[id]
	if !ok {
		return false, nil
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to delete block %s: %w", id, err)
	}
	delete(s.sizes, id)
	s.used -= size
	return true, nil
}

func (s *BlockStore) Has(id types.BlockID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sizes[id]
	return ok
}

// Usage is what the worker reports with its heartbeats.
func (s *BlockStore) Usage() types.UsageReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.UsageReport{CapacityBytes: s.capacity, UsedBytes: s.used}
}

func (s *BlockStore) Blocks() []types.BlockID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]types.BlockID, 0, len(s.sizes))
	for id := range s.sizes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
