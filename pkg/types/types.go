package types

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

type WorkerID string
type BlockID string

type WorkerState string

const (
	WorkerActive   WorkerState = "active"
	WorkerInactive WorkerState = "inactive"
)

type FileState string

const (
	FileCreating  FileState = "creating"
	FileCompleted FileState = "completed"
)

type BlockState string

const (
	BlockPending   BlockState = "pending"
	BlockConfirmed BlockState = "confirmed"
)

// Worker is a storage node known to the coordinator.
type Worker struct {
	ID            WorkerID             `json:"id" toml:"id"`
	Host          string               `json:"host" toml:"host"`
	Port          int                  `json:"port" toml:"port"`
	State         WorkerState          `json:"state" toml:"state"`
	CapacityBytes int64                `json:"capacity_bytes" toml:"capacity_bytes"`
	UsedBytes     int64                `json:"used_bytes" toml:"used_bytes"`
	LastHeartbeat time.Time            `json:"last_heartbeat" toml:"last_heartbeat"`
	RegisteredAt  time.Time            `json:"registered_at" toml:"registered_at"`
	Seq           uint64               `json:"seq" toml:"seq"`
	Blocks        map[BlockID]struct{} `json:"-" toml:"-"`
}

// NewWorker returns an active worker whose ID is derived from host and port.
func NewWorker(host string, port int, capacity int64, now time.Time) *Worker {
	return &Worker{
		ID:            MakeWorkerID(host, port),
		Host:          host,
		Port:          port,
		State:         WorkerActive,
		CapacityBytes: capacity,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Blocks:        make(map[BlockID]struct{}),
	}
}

func (w *Worker) FreeBytes() int64 {
	return w.CapacityBytes - w.UsedBytes
}

func (w *Worker) IsActive() bool {
	return w.State == WorkerActive
}

func (w *Worker) Address() string {
	return string(w.ID)
}

// Clone returns a deep copy safe to hand out of the coordinator lock.
func (w *Worker) Clone() *Worker {
	c := *w
	c.Blocks = make(map[BlockID]struct{}, len(w.Blocks))
	for id := range w.Blocks {
		c.Blocks[id] = struct{}{}
	}
	return &c
}

func MakeWorkerID(host string, port int) WorkerID {
	return WorkerID(net.JoinHostPort(host, strconv.Itoa(port)))
}

// SplitWorkerID is the inverse of MakeWorkerID.
func SplitWorkerID(id WorkerID) (string, int, error) {
	host, portStr, err := net.SplitHostPort(string(id))
	if err != nil {
		return "", 0, fmt.Errorf("invalid worker id %q: %w", id, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid worker port %q: %w", portStr, err)
	}
	return host, port, nil
}

type File struct {
	Path       string    `json:"path" toml:"path"`
	Name       string    `json:"name" toml:"name"`
	Owner      string    `json:"owner" toml:"owner"`
	Size       int64     `json:"size" toml:"size"`
	BlockIDs   []BlockID `json:"block_ids" toml:"block_ids"`
	State      FileState `json:"state" toml:"state"`
	CreatedAt  time.Time `json:"created_at" toml:"created_at"`
	ModifiedAt time.Time `json:"modified_at" toml:"modified_at"`
}

func (f *File) Clone() *File {
	c := *f
	c.BlockIDs = append([]BlockID(nil), f.BlockIDs...)
	return &c
}

type Directory struct {
	Path      string              `json:"path" toml:"path"`
	Owner     string              `json:"owner" toml:"owner"`
	Files     map[string]struct{} `json:"-" toml:"-"`
	Dirs      map[string]struct{} `json:"-" toml:"-"`
	CreatedAt time.Time           `json:"created_at" toml:"created_at"`
}

func NewDirectory(path, owner string, now time.Time) *Directory {
	return &Directory{
		Path:      path,
		Owner:     owner,
		Files:     make(map[string]struct{}),
		Dirs:      make(map[string]struct{}),
		CreatedAt: now,
	}
}

func (d *Directory) IsEmpty() bool {
	return len(d.Files) == 0 && len(d.Dirs) == 0
}

type Block struct {
	ID            BlockID    `json:"id" toml:"id"`
	FilePath      string     `json:"file_path" toml:"file_path"`
	Index         int        `json:"index" toml:"index"`
	Size          int64      `json:"size" toml:"size"`
	Replicas      []WorkerID `json:"replicas" toml:"replicas"`
	Confirmations []WorkerID `json:"confirmations" toml:"confirmations"`
	Checksum      string     `json:"checksum,omitempty" toml:"checksum,omitempty"`
	State         BlockState `json:"state" toml:"state"`

	// Pending holds repair targets that accepted a copy instruction but have
	// not confirmed the block yet. It is never persisted.
	Pending []PendingCopy `json:"-" toml:"-"`
}

// PendingCopy is a repair target waiting for its first confirmation.
type PendingCopy struct {
	Worker   WorkerID
	Deadline time.Time
}

// Leader is the replica a client writes to first.
func (b *Block) Leader() WorkerID {
	if len(b.Replicas) == 0 {
		return ""
	}
	return b.Replicas[0]
}

func (b *Block) HasReplica(id WorkerID) bool {
	for _, r := range b.Replicas {
		if r == id {
			return true
		}
	}
	return false
}

// IsPending reports whether id is a repair target still copying the block.
func (b *Block) IsPending(id WorkerID) bool {
	for _, p := range b.Pending {
		if p.Worker == id {
			return true
		}
	}
	return false
}

func (b *Block) Clone() *Block {
	c := *b
	c.Replicas = append([]WorkerID(nil), b.Replicas...)
	c.Confirmations = append([]WorkerID(nil), b.Confirmations...)
	if b.Pending != nil {
		c.Pending = append([]PendingCopy(nil), b.Pending...)
	}
	return &c
}

// UsageReport is a worker's own view of its storage, sent with heartbeats.
type UsageReport struct {
	CapacityBytes int64 `json:"capacity_bytes"`
	UsedBytes     int64 `json:"used_bytes"`
}

// Entry is one row of a directory listing.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	Owner      string    `json:"owner"`
	Size       int64     `json:"size"`
	State      FileState `json:"state,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Stats summarizes cluster state.
type Stats struct {
	Files             int   `json:"files"`
	Directories       int   `json:"directories"`
	Blocks            int   `json:"blocks"`
	Workers           int   `json:"workers"`
	ActiveWorkers     int   `json:"active_workers"`
	CapacityBytes     int64 `json:"capacity_bytes"`
	UsedBytes         int64 `json:"used_bytes"`
	UnderReplicated   int   `json:"under_replicated"`
	ReplicationFactor int   `json:"replication_factor"`
	BlockSize         int64 `json:"block_size"`
}

// FileLayout is a file together with its ordered block placement.
type FileLayout struct {
	File   File    `json:"file"`
	Blocks []Block `json:"blocks"`
}
