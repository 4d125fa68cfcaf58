package coordinator

import (
	"context"
	"errors"

	"blockfs/pkg/protocol"
	"blockfs/pkg/types"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server exposes a Coordinator over gRPC.
type Server struct {
	coord *Coordinator
}

func NewServer(coord *Coordinator) *Server {
	return &Server{coord: coord}
}

var _ protocol.NameNodeServer = (*Server)(nil)

// errorDomain tags ErrorInfo details attached by this server.
const errorDomain = "blockfs"

var errorCodes = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{ErrBlockNotFound, codes.NotFound, "BLOCK_NOT_FOUND"},
	{ErrNotFound, codes.NotFound, "NOT_FOUND"},
	{ErrAlreadyExists, codes.AlreadyExists, "ALREADY_EXISTS"},
	{ErrParentMissing, codes.FailedPrecondition, "PARENT_MISSING"},
	{ErrNotEmpty, codes.FailedPrecondition, "NOT_EMPTY"},
	{ErrInvalidOperation, codes.InvalidArgument, "INVALID_OPERATION"},
	{ErrPermissionDenied, codes.PermissionDenied, "PERMISSION_DENIED"},
	{ErrUnauthorizedWorker, codes.PermissionDenied, "UNAUTHORIZED_WORKER"},
	{ErrInsufficientWorkers, codes.ResourceExhausted, "INSUFFICIENT_WORKERS"},
	{ErrInsufficientSpace, codes.ResourceExhausted, "INSUFFICIENT_SPACE"},
	{ErrChecksumMismatch, codes.DataLoss, "CHECKSUM_MISMATCH"},
}

// toStatus converts coordinator errors into gRPC status errors carrying the
// full wrapped message. Known sentinels also carry an ErrorInfo detail naming
// the error kind.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range errorCodes {
		if !errors.Is(err, m.err) {
			continue
		}
		st := status.New(m.code, err.Error())
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: m.reason, Domain: errorDomain}); derr == nil {
			st = detailed
		}
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.kind }

// ErrorFromStatus maps a gRPC error returned by the coordinator back onto the
// matching sentinel, so callers can keep using errors.Is. Statuses without a
// blockfs ErrorInfo detail are returned unchanged.
func ErrorFromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		for _, m := range errorCodes {
			if m.reason == info.GetReason() {
				return &remoteError{kind: m.err, msg: st.Message()}
			}
		}
	}
	return err
}

func (s *Server) CreateDirectory(ctx context.Context, req *protocol.CreateDirectoryRequest) (*protocol.CreateDirectoryResponse, error) {
	entry, err := s.coord.CreateDirectory(req.Path, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.CreateDirectoryResponse{Entry: entry}, nil
}

func (s *Server) DeleteDirectory(ctx context.Context, req *protocol.DeleteDirectoryRequest) (*protocol.DeleteDirectoryResponse, error) {
	if err := s.coord.DeleteDirectory(req.Path, req.Requester, req.Recursive); err != nil {
		return nil, toStatus(err)
	}
	return &protocol.DeleteDirectoryResponse{}, nil
}

func (s *Server) CreateFile(ctx context.Context, req *protocol.CreateFileRequest) (*protocol.CreateFileResponse, error) {
	layout, err := s.coord.CreateFile(req.Path, req.Owner, req.Size)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.CreateFileResponse{Layout: *layout}, nil
}

func (s *Server) DeleteFile(ctx context.Context, req *protocol.DeleteFileRequest) (*protocol.DeleteFileResponse, error) {
	if err := s.coord.DeleteFile(req.Path, req.Requester); err != nil {
		return nil, toStatus(err)
	}
	return &protocol.DeleteFileResponse{}, nil
}

func (s *Server) MoveFile(ctx context.Context, req *protocol.MoveFileRequest) (*protocol.MoveFileResponse, error) {
	if err := s.coord.MoveFile(req.Source, req.Destination, req.Requester); err != nil {
		return nil, toStatus(err)
	}
	return &protocol.MoveFileResponse{}, nil
}

func (s *Server) ListDirectory(ctx context.Context, req *protocol.ListDirectoryRequest) (*protocol.ListDirectoryResponse, error) {
	entries, err := s.coord.ListDirectory(req.Path, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ListDirectoryResponse{Entries: entries}, nil
}

func (s *Server) Stat(ctx context.Context, req *protocol.StatRequest) (*protocol.StatResponse, error) {
	entry, err := s.coord.Stat(req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.StatResponse{Entry: entry}, nil
}

func (s *Server) GetBlockLayout(ctx context.Context, req *protocol.GetBlockLayoutRequest) (*protocol.GetBlockLayoutResponse, error) {
	layout, err := s.coord.FileLayout(req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.GetBlockLayoutResponse{Layout: *layout}, nil
}

func (s *Server) SearchFiles(ctx context.Context, req *protocol.SearchFilesRequest) (*protocol.SearchFilesResponse, error) {
	return &protocol.SearchFilesResponse{Files: s.coord.SearchFiles(req.Owner)}, nil
}

func (s *Server) GetStats(ctx context.Context, req *protocol.GetStatsRequest) (*protocol.GetStatsResponse, error) {
	return &protocol.GetStatsResponse{Stats: s.coord.Stats()}, nil
}

func (s *Server) ListWorkers(ctx context.Context, req *protocol.ListWorkersRequest) (*protocol.ListWorkersResponse, error) {
	workers := s.coord.Workers()
	resp := &protocol.ListWorkersResponse{Workers: make([]types.Worker, 0, len(workers))}
	for _, w := range workers {
		resp.Workers = append(resp.Workers, *w)
	}
	return resp, nil
}

func (s *Server) PruneWorkers(ctx context.Context, req *protocol.PruneWorkersRequest) (*protocol.PruneWorkersResponse, error) {
	if req.MaxAge <= 0 {
		return nil, status.Error(codes.InvalidArgument, "max_age must be positive")
	}
	return &protocol.PruneWorkersResponse{Removed: s.coord.PruneWorkers(req.MaxAge)}, nil
}

func (s *Server) RegisterWorker(ctx context.Context, req *protocol.RegisterWorkerRequest) (*protocol.RegisterWorkerResponse, error) {
	w, err := s.coord.Register(req.Host, req.Port, req.CapacityBytes)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.RegisterWorkerResponse{
		WorkerID:  w.ID,
		BlockSize: s.coord.config.BlockSize,
	}, nil
}

func (s *Server) Heartbeat(ctx context.Context, req *protocol.HeartbeatRequest) (*protocol.HeartbeatResponse, error) {
	w, err := s.coord.Heartbeat(req.Host, req.Port, req.Usage)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.HeartbeatResponse{WorkerID: w.ID, State: w.State}, nil
}

func (s *Server) ConfirmBlockWrite(ctx context.Context, req *protocol.ConfirmBlockWriteRequest) (*protocol.ConfirmBlockWriteResponse, error) {
	state, err := s.coord.ConfirmBlockWrite(req.BlockID, req.WorkerID, req.Checksum)
	if err != nil {
		return nil, toStatus(err)
	}
	return &protocol.ConfirmBlockWriteResponse{FileState: state}, nil
}
