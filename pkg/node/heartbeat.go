package node

import (
	"context"
	"time"

	"blockfs/pkg/protocol"
	"blockfs/pkg/types"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DefaultHeartbeatInterval  = 10 * time.Second
	RegistrationRetryInterval = 30 * time.Second
)

func (n *Node) heartbeatInterval() time.Duration {
	if n.config.HeartbeatInterval > 0 {
		return n.config.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

// heartbeatLoop reports usage on every tick and re-registers when the
// coordinator appears to have forgotten this worker.
func (n *Node) heartbeatLoop() {
	defer n.wg.Done()

	heartbeatTicker := time.NewTicker(n.heartbeatInterval())
	defer heartbeatTicker.Stop()

	registrationTicker := time.NewTicker(RegistrationRetryInterval)
	defer registrationTicker.Stop()

	registered := true
	lastHeartbeat := time.Now()

	for {
		select {
		case <-n.ctx.Done():
			return

		case <-heartbeatTicker.C:
			if _, err := n.sendHeartbeat(); err != nil {
				n.logger.Warn("Failed to send heartbeat",
					zap.Error(err),
					zap.Duration("since_last", time.Since(lastHeartbeat)))
				if isRegistrationError(err) {
					registered = false
				}
				continue
			}
			lastHeartbeat = time.Now()
			registered = true

		case <-registrationTicker.C:
			if registered {
				continue
			}
			n.logger.Info("Attempting to re-register with coordinator")
			if err := n.register(); err != nil {
				n.logger.Error("Failed to re-register", zap.Error(err))
				continue
			}
			registered = true
		}
	}
}

// sendHeartbeat reports the block store's usage. A heartbeat from an
// unknown address registers the worker on the coordinator side.
func (n *Node) sendHeartbeat() (types.WorkerState, error) {
	ctx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
	defer cancel()

	usage := n.store.Usage()
	resp, err := n.coordinator.Heartbeat(ctx, &protocol.HeartbeatRequest{
		Host:  n.config.Host,
		Port:  n.config.Port,
		Usage: &usage,
	})
	if err != nil {
		return "", err
	}

	n.idMu.Lock()
	n.workerID = resp.WorkerID
	n.idMu.Unlock()
	return resp.State, nil
}

// isRegistrationError reports whether err means the coordinator no longer
// knows this worker or restarted.
func isRegistrationError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case codes.NotFound, codes.Unauthenticated, codes.PermissionDenied, codes.Unavailable:
		return true
	default:
		return false
	}
}
