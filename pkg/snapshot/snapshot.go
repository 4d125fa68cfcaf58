// Package snapshot persists coordinator metadata as a single point-in-time
// record. It is not a log: whatever changed after the last Save is lost on crash.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blockfs/pkg/types"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	FormatJSON = "json"
	FormatTOML = "toml"

	formatVersion = 1
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot")

// State is one record set per entity type.
type State struct {
	Version     int               `json:"version" toml:"version"`
	ID          string            `json:"id" toml:"id"`
	TakenAt     time.Time         `json:"taken_at" toml:"taken_at"`
	Directories []types.Directory `json:"directories" toml:"directories"`
	Files       []types.File      `json:"files" toml:"files"`
	Blocks      []types.Block     `json:"blocks" toml:"blocks"`
	Workers     []types.Worker    `json:"workers" toml:"workers"`
}

// New stamps an empty state with a fresh id.
func New(takenAt time.Time) *State {
	return &State{
		Version: formatVersion,
		ID:      uuid.NewString(),
		TakenAt: takenAt,
	}
}

func Encode(st *State, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(st, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(st); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown snapshot format %q", format)
}

func Decode(data []byte, format string) (*State, error) {
	var st State
	switch format {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, err
		}
	case FormatTOML:
		if _, err := toml.Decode(string(data), &st); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown snapshot format %q", format)
	}
	if st.Version > formatVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", st.Version, formatVersion)
	}
	return &st, nil
}

// Save writes st to path through a temp file and rename, so a crash mid-write
// leaves the previous snapshot intact.
func Save(path, format string, st *State) error {
	data, err := Encode(st, format)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}
	return nil
}

func Load(path, format string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	st, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return st, nil
}
