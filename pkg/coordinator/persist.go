package coordinator

import (
	"errors"
	"fmt"
	"sort"

	"blockfs/pkg/snapshot"
	"blockfs/pkg/types"

	"go.uber.org/zap"
)

// Snapshot copies the full metadata state under the read lock.
func (c *Coordinator) Snapshot() *snapshot.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := snapshot.New(c.now())
	for _, d := range c.dirs {
		st.Directories = append(st.Directories, types.Directory{
			Path:      d.Path,
			Owner:     d.Owner,
			CreatedAt: d.CreatedAt,
		})
	}
	for _, f := range c.files {
		st.Files = append(st.Files, *f.Clone())
	}
	// Pending copies are not persisted, so neither are their reservations.
	pendingBytes := make(map[types.WorkerID]int64)
	for _, b := range c.blocks {
		st.Blocks = append(st.Blocks, *b.Clone())
		for _, p := range b.Pending {
			pendingBytes[p.Worker] += b.Size
		}
	}
	for _, w := range c.workers {
		wc := w.Clone()
		wc.Blocks = nil
		wc.UsedBytes -= pendingBytes[w.ID]
		if wc.UsedBytes < 0 {
			wc.UsedBytes = 0
		}
		st.Workers = append(st.Workers, *wc)
	}

	sort.Slice(st.Directories, func(i, j int) bool { return st.Directories[i].Path < st.Directories[j].Path })
	sort.Slice(st.Files, func(i, j int) bool { return st.Files[i].Path < st.Files[j].Path })
	sort.Slice(st.Blocks, func(i, j int) bool { return st.Blocks[i].ID < st.Blocks[j].ID })
	sort.Slice(st.Workers, func(i, j int) bool { return st.Workers[i].Seq < st.Workers[j].Seq })
	return st
}

// Restore replaces all state with st. Parent links and worker block sets are
// rebuilt from paths and replica lists. Restored workers get a fresh
// heartbeat so the next sweep gives them one full timeout to report in
// before their blocks count as lost.
func (c *Coordinator) Restore(st *snapshot.State) error {
	dirs := make(map[string]*types.Directory, len(st.Directories)+1)
	files := make(map[string]*types.File, len(st.Files))
	blocks := make(map[types.BlockID]*types.Block, len(st.Blocks))
	workers := make(map[types.WorkerID]*types.Worker, len(st.Workers))
	now := c.now()

	for i := range st.Directories {
		d := st.Directories[i]
		dirs[d.Path] = types.NewDirectory(d.Path, d.Owner, d.CreatedAt)
	}
	if _, ok := dirs["/"]; !ok {
		dirs["/"] = types.NewDirectory("/", c.config.RootOwner, now)
	}
	for path := range dirs {
		if path == "/" {
			continue
		}
		parent, ok := dirs[getParentPath(path)]
		if !ok {
			return fmt.Errorf("snapshot directory %s has no parent", path)
		}
		parent.Dirs[getBaseName(path)] = struct{}{}
	}

	for i := range st.Files {
		f := st.Files[i].Clone()
		parent, ok := dirs[getParentPath(f.Path)]
		if !ok {
			return fmt.Errorf("snapshot file %s has no parent", f.Path)
		}
		parent.Files[f.Name] = struct{}{}
		files[f.Path] = f
	}

	var maxSeq uint64
	for i := range st.Workers {
		w := st.Workers[i].Clone()
		w.LastHeartbeat = now
		w.State = types.WorkerActive
		workers[w.ID] = w
		if w.Seq > maxSeq {
			maxSeq = w.Seq
		}
	}

	for i := range st.Blocks {
		b := st.Blocks[i].Clone()
		if _, ok := files[b.FilePath]; !ok {
			return fmt.Errorf("snapshot block %s references missing file %s", b.ID, b.FilePath)
		}
		for _, wid := range b.Replicas {
			if w, ok := workers[wid]; ok {
				w.Blocks[b.ID] = struct{}{}
			}
		}
		blocks[b.ID] = b
	}

	c.mu.Lock()
	c.dirs, c.files, c.blocks, c.workers = dirs, files, blocks, workers
	c.workerSeq = maxSeq
	c.mu.Unlock()

	c.logger.Info("Snapshot restored",
		zap.String("snapshot_id", st.ID),
		zap.Time("taken_at", st.TakenAt),
		zap.Int("files", len(files)),
		zap.Int("blocks", len(blocks)),
		zap.Int("workers", len(workers)))
	c.refreshGauges()
	return nil
}

// SaveSnapshot writes the current state to the configured snapshot path.
func (c *Coordinator) SaveSnapshot() error {
	path := c.config.SnapshotPath()
	if path == "" {
		return nil
	}
	st := c.Snapshot()
	if err := snapshot.Save(path, c.config.SnapshotFormat, st); err != nil {
		return err
	}
	c.logger.Debug("Snapshot saved", zap.String("path", path), zap.String("snapshot_id", st.ID))
	return nil
}

// LoadSnapshot restores from the configured snapshot path, if one exists.
func (c *Coordinator) LoadSnapshot() error {
	path := c.config.SnapshotPath()
	if path == "" {
		return nil
	}
	st, err := snapshot.Load(path, c.config.SnapshotFormat)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		c.logger.Info("No snapshot found, starting empty", zap.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	return c.Restore(st)
}
