package protocol

import (
	"context"

	"google.golang.org/grpc"
)

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+service+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// NameNodeClient calls the coordinator.
type NameNodeClient struct {
	cc grpc.ClientConnInterface
}

func NewNameNodeClient(cc grpc.ClientConnInterface) *NameNodeClient {
	return &NameNodeClient{cc: cc}
}

func (c *NameNodeClient) CreateDirectory(ctx context.Context, in *CreateDirectoryRequest, opts ...grpc.CallOption) (*CreateDirectoryResponse, error) {
	return invoke[CreateDirectoryResponse](ctx, c.cc, NameNodeServiceName, "CreateDirectory", in, opts)
}

func (c *NameNodeClient) DeleteDirectory(ctx context.Context, in *DeleteDirectoryRequest, opts ...grpc.CallOption) (*DeleteDirectoryResponse, error) {
	return invoke[DeleteDirectoryResponse](ctx, c.cc, NameNodeServiceName, "DeleteDirectory", in, opts)
}

func (c *NameNodeClient) CreateFile(ctx context.Context, in *CreateFileRequest, opts ...grpc.CallOption) (*CreateFileResponse, error) {
	return invoke[CreateFileResponse](ctx, c.cc, NameNodeServiceName, "CreateFile", in, opts)
}

func (c *NameNodeClient) DeleteFile(ctx context.Context, in *DeleteFileRequest, opts ...grpc.CallOption) (*DeleteFileResponse, error) {
	return invoke[DeleteFileResponse](ctx, c.cc, NameNodeServiceName, "DeleteFile", in, opts)
}

func (c *NameNodeClient) MoveFile(ctx context.Context, in *MoveFileRequest, opts ...grpc.CallOption) (*MoveFileResponse, error) {
	return invoke[MoveFileResponse](ctx, c.cc, NameNodeServiceName, "MoveFile", in, opts)
}

func (c *NameNodeClient) ListDirectory(ctx context.Context, in *ListDirectoryRequest, opts ...grpc.CallOption) (*ListDirectoryResponse, error) {
	return invoke[ListDirectoryResponse](ctx, c.cc, NameNodeServiceName, "ListDirectory", in, opts)
}

func (c *NameNodeClient) Stat(ctx context.Context, in *StatRequest, opts ...grpc.CallOption) (*StatResponse, error) {
	return invoke[StatResponse](ctx, c.cc, NameNodeServiceName, "Stat", in, opts)
}

func (c *NameNodeClient) GetBlockLayout(ctx context.Context, in *GetBlockLayoutRequest, opts ...grpc.CallOption) (*GetBlockLayoutResponse, error) {
	return invoke[GetBlockLayoutResponse](ctx, c.cc, NameNodeServiceName, "GetBlockLayout", in, opts)
}

func (c *NameNodeClient) SearchFiles(ctx context.Context, in *SearchFilesRequest, opts ...grpc.CallOption) (*SearchFilesResponse, error) {
	return invoke[SearchFilesResponse](ctx, c.cc, NameNodeServiceName, "SearchFiles", in, opts)
}

func (c *NameNodeClient) GetStats(ctx context.Context, in *GetStatsRequest, opts ...grpc.CallOption) (*GetStatsResponse, error) {
	return invoke[GetStatsResponse](ctx, c.cc, NameNodeServiceName, "GetStats", in, opts)
}

func (c *NameNodeClient) ListWorkers(ctx context.Context, in *ListWorkersRequest, opts ...grpc.CallOption) (*ListWorkersResponse, error) {
	return invoke[ListWorkersResponse](ctx, c.cc, NameNodeServiceName, "ListWorkers", in, opts)
}

func (c *NameNodeClient) PruneWorkers(ctx context.Context, in *PruneWorkersRequest, opts ...grpc.CallOption) (*PruneWorkersResponse, error) {
	return invoke[PruneWorkersResponse](ctx, c.cc, NameNodeServiceName, "PruneWorkers", in, opts)
}

func (c *NameNodeClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerResponse](ctx, c.cc, NameNodeServiceName, "RegisterWorker", in, opts)
}

func (c *NameNodeClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, NameNodeServiceName, "Heartbeat", in, opts)
}

func (c *NameNodeClient) ConfirmBlockWrite(ctx context.Context, in *ConfirmBlockWriteRequest, opts ...grpc.CallOption) (*ConfirmBlockWriteResponse, error) {
	return invoke[ConfirmBlockWriteResponse](ctx, c.cc, NameNodeServiceName, "ConfirmBlockWrite", in, opts)
}

// WorkerClient calls a storage worker.
type WorkerClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkerClient(cc grpc.ClientConnInterface) *WorkerClient {
	return &WorkerClient{cc: cc}
}

func (c *WorkerClient) StoreBlock(ctx context.Context, in *StoreBlockRequest, opts ...grpc.CallOption) (*StoreBlockResponse, error) {
	return invoke[StoreBlockResponse](ctx, c.cc, WorkerServiceName, "StoreBlock", in, opts)
}

func (c *WorkerClient) ReadBlock(ctx context.Context, in *ReadBlockRequest, opts ...grpc.CallOption) (*ReadBlockResponse, error) {
	return invoke[ReadBlockResponse](ctx, c.cc, WorkerServiceName, "ReadBlock", in, opts)
}

func (c *WorkerClient) DeleteBlocks(ctx context.Context, in *DeleteBlocksRequest, opts ...grpc.CallOption) (*DeleteBlocksResponse, error) {
	return invoke[DeleteBlocksResponse](ctx, c.cc, WorkerServiceName, "DeleteBlocks", in, opts)
}

func (c *WorkerClient) ReplicateBlock(ctx context.Context, in *ReplicateBlockRequest, opts ...grpc.CallOption) (*ReplicateBlockResponse, error) {
	return invoke[ReplicateBlockResponse](ctx, c.cc, WorkerServiceName, "ReplicateBlock", in, opts)
}
