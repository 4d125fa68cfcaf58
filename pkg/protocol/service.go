package protocol

import (
	"context"

	"google.golang.org/grpc"
)

const (
	NameNodeServiceName = "blockfs.NameNode"
	WorkerServiceName   = "blockfs.Worker"
)

// NameNodeServer is implemented by the coordinator.
type NameNodeServer interface {
	CreateDirectory(context.Context, *CreateDirectoryRequest) (*CreateDirectoryResponse, error)
	DeleteDirectory(context.Context, *DeleteDirectoryRequest) (*DeleteDirectoryResponse, error)
	CreateFile(context.Context, *CreateFileRequest) (*CreateFileResponse, error)
	DeleteFile(context.Context, *DeleteFileRequest) (*DeleteFileResponse, error)
	MoveFile(context.Context, *MoveFileRequest) (*MoveFileResponse, error)
	ListDirectory(context.Context, *ListDirectoryRequest) (*ListDirectoryResponse, error)
	Stat(context.Context, *StatRequest) (*StatResponse, error)
	GetBlockLayout(context.Context, *GetBlockLayoutRequest) (*GetBlockLayoutResponse, error)
	SearchFiles(context.Context, *SearchFilesRequest) (*SearchFilesResponse, error)
	GetStats(context.Context, *GetStatsRequest) (*GetStatsResponse, error)
	ListWorkers(context.Context, *ListWorkersRequest) (*ListWorkersResponse, error)
	PruneWorkers(context.Context, *PruneWorkersRequest) (*PruneWorkersResponse, error)
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	ConfirmBlockWrite(context.Context, *ConfirmBlockWriteRequest) (*ConfirmBlockWriteResponse, error)
}

var NameNodeServiceDesc = grpc.ServiceDesc{
	ServiceName: NameNodeServiceName,
	HandlerType: (*NameNodeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(NameNodeServiceName, "CreateDirectory", NameNodeServer.CreateDirectory),
		unary(NameNodeServiceName, "DeleteDirectory", NameNodeServer.DeleteDirectory),
		unary(NameNodeServiceName, "CreateFile", NameNodeServer.CreateFile),
		unary(NameNodeServiceName, "DeleteFile", NameNodeServer.DeleteFile),
		unary(NameNodeServiceName, "MoveFile", NameNodeServer.MoveFile),
		unary(NameNodeServiceName, "ListDirectory", NameNodeServer.ListDirectory),
		unary(NameNodeServiceName, "Stat", NameNodeServer.Stat),
		unary(NameNodeServiceName, "GetBlockLayout", NameNodeServer.GetBlockLayout),
		unary(NameNodeServiceName, "SearchFiles", NameNodeServer.SearchFiles),
		unary(NameNodeServiceName, "GetStats", NameNodeServer.GetStats),
		unary(NameNodeServiceName, "ListWorkers", NameNodeServer.ListWorkers),
		unary(NameNodeServiceName, "PruneWorkers", NameNodeServer.PruneWorkers),
		unary(NameNodeServiceName, "RegisterWorker", NameNodeServer.RegisterWorker),
		unary(NameNodeServiceName, "Heartbeat", NameNodeServer.Heartbeat),
		unary(NameNodeServiceName, "ConfirmBlockWrite", NameNodeServer.ConfirmBlockWrite),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blockfs/namenode",
}

func RegisterNameNodeServer(s grpc.ServiceRegistrar, srv NameNodeServer) {
	s.RegisterService(&NameNodeServiceDesc, srv)
}

// WorkerServer is implemented by storage workers.
type WorkerServer interface {
	StoreBlock(context.Context, *StoreBlockRequest) (*StoreBlockResponse, error)
	ReadBlock(context.Context, *ReadBlockRequest) (*ReadBlockResponse, error)
	DeleteBlocks(context.Context, *DeleteBlocksRequest) (*DeleteBlocksResponse, error)
	ReplicateBlock(context.Context, *ReplicateBlockRequest) (*ReplicateBlockResponse, error)
}

var WorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: WorkerServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(WorkerServiceName, "StoreBlock", WorkerServer.StoreBlock),
		unary(WorkerServiceName, "ReadBlock", WorkerServer.ReadBlock),
		unary(WorkerServiceName, "DeleteBlocks", WorkerServer.DeleteBlocks),
		unary(WorkerServiceName, "ReplicateBlock", WorkerServer.ReplicateBlock),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blockfs/worker",
}

func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&WorkerServiceDesc, srv)
}

// unary builds the method descriptor a protoc plugin would otherwise generate.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
