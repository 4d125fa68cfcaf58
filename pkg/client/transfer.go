package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"blockfs/pkg/protocol"
	"blockfs/pkg/storage"
	"blockfs/pkg/types"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

func (c *Client) newBar(size int64, description string) *progressbar.ProgressBar {
	if c.quiet {
		return progressbar.DefaultBytesSilent(size, description)
	}
	return progressbar.DefaultBytes(size, description)
}

func sortedBlocks(layout *types.FileLayout) []types.Block {
	blocks := append([]types.Block(nil), layout.Blocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })
	return blocks
}

// Put uploads localPath to remotePath. Each block goes to its leader, which
// forwards it along the rest of the replica set. If any block fails the
// partially written file is deleted again.
func (c *Client) Put(ctx context.Context, localPath, remotePath string) (*types.FileLayout, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	layout, err := c.createFile(ctx, remotePath, info.Size())
	if err != nil {
		return nil, err
	}

	bar := c.newBar(info.Size(), "uploading")
	reader := progressbar.NewReader(f, bar)

	for _, b := range sortedBlocks(layout) {
		data := make([]byte, b.Size)
		if _, err := io.ReadFull(&reader, data); err != nil {
			return nil, c.abortPut(ctx, remotePath, blockErr(b, err))
		}
		if err := c.writeBlock(ctx, b, data); err != nil {
			return nil, c.abortPut(ctx, remotePath, blockErr(b, err))
		}
	}
	bar.Finish()

	c.logger.Debug("Upload finished",
		zap.String("path", layout.File.Path),
		zap.Int64("size", info.Size()),
		zap.Int("blocks", len(layout.Blocks)))

	return c.Layout(ctx, remotePath)
}

func (c *Client) abortPut(ctx context.Context, remotePath string, cause error) error {
	if err := c.deleteFile(ctx, remotePath); err != nil {
		c.logger.Warn("Failed to remove partial upload", zap.String("path", remotePath), zap.Error(err))
	}
	return cause
}

func (c *Client) writeBlock(ctx context.Context, b types.Block, data []byte) error {
	leader := b.Leader()
	if leader == "" {
		return fmt.Errorf("no replicas assigned")
	}
	worker, err := c.pool.Worker(string(leader))
	if err != nil {
		return err
	}

	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	sum := storage.Checksum(data)
	resp, err := worker.StoreBlock(ctx, &protocol.StoreBlockRequest{
		BlockID:   b.ID,
		Data:      data,
		Checksum:  sum,
		Followers: b.Replicas[1:],
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", leader, err)
	}
	if resp.Checksum != sum {
		return fmt.Errorf("%w: leader %s stored %s, sent %s", storage.ErrCorruptBlock, leader, resp.Checksum, sum)
	}
	return nil
}

// Get downloads remotePath into localPath. Every block is read from the first
// replica that returns data matching the recorded checksum.
func (c *Client) Get(ctx context.Context, remotePath, localPath string) (*types.FileLayout, error) {
	layout, err := c.Layout(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if layout.File.State != types.FileCompleted {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteFile, layout.File.Path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".blockfs-get-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	bar := c.newBar(layout.File.Size, "downloading")
	w := io.MultiWriter(tmp, bar)

	for _, b := range sortedBlocks(layout) {
		data, err := c.readBlock(ctx, b)
		if err != nil {
			tmp.Close()
			return nil, blockErr(b, err)
		}
		if _, err := w.Write(data); err != nil {
			tmp.Close()
			return nil, err
		}
	}
	bar.Finish()

	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, err
	}
	return layout, nil
}

func (c *Client) readBlock(ctx context.Context, b types.Block) ([]byte, error) {
	var lastErr error
	for _, id := range b.Replicas {
		worker, err := c.pool.Worker(string(id))
		if err != nil {
			lastErr = err
			continue
		}

		callCtx, cancel := c.callCtx(ctx)
		resp, err := worker.ReadBlock(callCtx, &protocol.ReadBlockRequest{BlockID: b.ID})
		cancel()
		if err != nil {
			lastErr = err
			c.logger.Debug("Replica read failed", zap.String("block_id", string(b.ID)), zap.String("worker_id", string(id)), zap.Error(err))
			continue
		}
		if int64(len(resp.Data)) != b.Size || !storage.VerifyChecksum(resp.Data, b.Checksum) {
			lastErr = fmt.Errorf("%w: %s on %s", storage.ErrCorruptBlock, b.ID, id)
			c.logger.Warn("Replica returned corrupt data", zap.String("block_id", string(b.ID)), zap.String("worker_id", string(id)))
			continue
		}
		return resp.Data, nil
	}
	if lastErr == nil {
		return nil, ErrNoReplica
	}
	return nil, fmt.Errorf("%w: %v", ErrNoReplica, lastErr)
}
