package protocol

import (
	"time"

	"blockfs/pkg/types"
)

// Namespace

type CreateDirectoryRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

type CreateDirectoryResponse struct {
	Entry types.Entry `json:"entry"`
}

type DeleteDirectoryRequest struct {
	Path      string `json:"path"`
	Requester string `json:"requester"`
	Recursive bool   `json:"recursive"`
}

type DeleteDirectoryResponse struct{}

type CreateFileRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
	Size  int64  `json:"size"`
}

type CreateFileResponse struct {
	Layout types.FileLayout `json:"layout"`
}

type DeleteFileRequest struct {
	Path      string `json:"path"`
	Requester string `json:"requester"`
}

type DeleteFileResponse struct{}

type MoveFileRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Requester   string `json:"requester"`
}

type MoveFileResponse struct{}

type ListDirectoryRequest struct {
	Path  string `json:"path"`
	Owner string `json:"owner,omitempty"`
}

type ListDirectoryResponse struct {
	Entries []types.Entry `json:"entries"`
}

type StatRequest struct {
	Path string `json:"path"`
}

type StatResponse struct {
	Entry types.Entry `json:"entry"`
}

type GetBlockLayoutRequest struct {
	Path string `json:"path"`
}

type GetBlockLayoutResponse struct {
	Layout types.FileLayout `json:"layout"`
}

type SearchFilesRequest struct {
	Owner string `json:"owner"`
}

type SearchFilesResponse struct {
	Files []types.File `json:"files"`
}

// Cluster

type GetStatsRequest struct{}

type GetStatsResponse struct {
	Stats types.Stats `json:"stats"`
}

type ListWorkersRequest struct{}

type ListWorkersResponse struct {
	Workers []types.Worker `json:"workers"`
}

type PruneWorkersRequest struct {
	MaxAge time.Duration `json:"max_age"`
}

type PruneWorkersResponse struct {
	Removed []types.WorkerID `json:"removed"`
}

// Worker -> coordinator

type RegisterWorkerRequest struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	CapacityBytes int64  `json:"capacity_bytes"`
}

type RegisterWorkerResponse struct {
	WorkerID  types.WorkerID `json:"worker_id"`
	BlockSize int64          `json:"block_size"`
}

type HeartbeatRequest struct {
	Host  string             `json:"host"`
	Port  int                `json:"port"`
	Usage *types.UsageReport `json:"usage,omitempty"`
}

type HeartbeatResponse struct {
	WorkerID types.WorkerID    `json:"worker_id"`
	State    types.WorkerState `json:"state"`
}

type ConfirmBlockWriteRequest struct {
	BlockID  types.BlockID  `json:"block_id"`
	WorkerID types.WorkerID `json:"worker_id"`
	Checksum string         `json:"checksum"`
}

type ConfirmBlockWriteResponse struct {
	FileState types.FileState `json:"file_state"`
}

// Coordinator/client -> worker

type StoreBlockRequest struct {
	BlockID   types.BlockID    `json:"block_id"`
	Data      []byte           `json:"data"`
	Checksum  string           `json:"checksum,omitempty"`
	Followers []types.WorkerID `json:"followers,omitempty"`
}

type StoreBlockResponse struct {
	Checksum string `json:"checksum"`
}

type ReadBlockRequest struct {
	BlockID types.BlockID `json:"block_id"`
}

type ReadBlockResponse struct {
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

type DeleteBlocksRequest struct {
	BlockIDs []types.BlockID `json:"block_ids"`
}

type DeleteBlocksResponse struct {
	Deleted int `json:"deleted"`
}

type ReplicateBlockRequest struct {
	BlockID types.BlockID  `json:"block_id"`
	Source  types.WorkerID `json:"source"`
}

// ReplicateBlockResponse acknowledges the instruction. The copy itself runs
// in the background and is reported through ConfirmBlockWrite.
type ReplicateBlockResponse struct {
	Accepted bool `json:"accepted"`
}
