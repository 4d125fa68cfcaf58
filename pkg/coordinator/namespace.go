package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"blockfs/pkg/types"

	"go.uber.org/zap"
)

// NormalizePath forces a leading slash, converts backslashes, collapses
// repeated slashes and drops a trailing slash. NormalizePath(NormalizePath(p))
// always equals NormalizePath(p).
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	var b strings.Builder
	b.Grow(len(p) + 1)
	b.WriteByte('/')
	prevSlash := true
	for i := 0; i < len(p); i++ {
		ch := p[i]
		if ch == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(ch)
	}

	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	return out
}

// getParentPath expects a normalized path. The root has no parent.
func getParentPath(path string) string {
	if path == "/" {
		return ""
	}
	lastSlash := strings.LastIndex(path, "/")
	if lastSlash <= 0 {
		return "/"
	}
	return path[:lastSlash]
}

func getBaseName(path string) string {
	if path == "/" {
		return "/"
	}
	return path[strings.LastIndex(path, "/")+1:]
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func validateEntryName(path string) error {
	switch getBaseName(path) {
	case ".", "..":
		return fmt.Errorf("%w: %q is not a valid name", ErrInvalidOperation, path)
	}
	return nil
}

func (c *Coordinator) isPrivileged(user string) bool {
	return user != "" && user == c.config.AdminUser
}

func (c *Coordinator) canModify(owner, requester string) bool {
	return requester == owner || c.isPrivileged(requester)
}

func (c *Coordinator) existsLocked(path string) bool {
	if _, ok := c.dirs[path]; ok {
		return true
	}
	_, ok := c.files[path]
	return ok
}

// parentForCreateLocked validates that path is free and its parent exists.
func (c *Coordinator) parentForCreateLocked(path string) (*types.Directory, error) {
	if c.existsLocked(path) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	parentPath := getParentPath(path)
	parent, ok := c.dirs[parentPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParentMissing, parentPath)
	}
	return parent, nil
}

func (c *Coordinator) CreateDirectory(path, owner string) (types.Entry, error) {
	path = NormalizePath(path)
	if err := validateEntryName(path); err != nil {
		return types.Entry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := c.parentForCreateLocked(path)
	if err != nil {
		return types.Entry{}, err
	}

	dir := types.NewDirectory(path, owner, c.now())
	c.dirs[path] = dir
	parent.Dirs[getBaseName(path)] = struct{}{}

	c.logger.Info("Directory created", zap.String("path", path), zap.String("owner", owner))
	return dirEntry(dir), nil
}

// CreateFile adds a file in the Creating state and plans its blocks. Either
// the entry and every block reservation are recorded, or nothing is.
func (c *Coordinator) CreateFile(path, owner string, size int64) (*types.FileLayout, error) {
	path = NormalizePath(path)
	if err := validateEntryName(path); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative file size %d", ErrInvalidOperation, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := c.parentForCreateLocked(path)
	if err != nil {
		return nil, err
	}

	now := c.now()
	file := &types.File{
		Path:       path,
		Name:       getBaseName(path),
		Owner:      owner,
		Size:       size,
		State:      types.FileCreating,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	blocks, err := c.planBlocks(file)
	if err != nil {
		c.metrics.PlacementFailures.Inc()
		c.logger.Warn("Block placement failed",
			zap.String("path", path),
			zap.Int64("size", size),
			zap.Error(err))
		return nil, err
	}
	if len(blocks) == 0 {
		file.State = types.FileCompleted
	}

	c.files[path] = file
	parent.Files[file.Name] = struct{}{}

	c.logger.Info("File created",
		zap.String("path", path),
		zap.String("owner", owner),
		zap.Int64("size", size),
		zap.Int("blocks", len(blocks)))

	return c.layoutLocked(file), nil
}

func (c *Coordinator) DeleteFile(path, requester string) error {
	path = NormalizePath(path)

	c.mu.Lock()
	file, ok := c.files[path]
	if !ok {
		_, isDir := c.dirs[path]
		c.mu.Unlock()
		if isDir {
			return fmt.Errorf("%w: %s is a directory", ErrInvalidOperation, path)
		}
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !c.canModify(file.Owner, requester) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s may not delete %s", ErrPermissionDenied, requester, path)
	}
	purge := c.removeFileLocked(file)
	c.mu.Unlock()

	c.logger.Info("File deleted", zap.String("path", path), zap.String("requester", requester))
	c.dispatchDeletes(purge)
	return nil
}

// removeFileLocked unlinks the file and releases its blocks, returning what
// each worker should purge.
func (c *Coordinator) removeFileLocked(file *types.File) map[types.WorkerID][]types.BlockID {
	if parent, ok := c.dirs[getParentPath(file.Path)]; ok {
		delete(parent.Files, file.Name)
	}
	delete(c.files, file.Path)
	return c.releaseBlocks(file.BlockIDs)
}

// DeleteDirectory removes an empty directory, or with recursive set, the
// whole subtree depth-first. Permissions are checked on every entry before
// anything is removed.
func (c *Coordinator) DeleteDirectory(path, requester string, recursive bool) error {
	path = NormalizePath(path)
	if path == "/" {
		return fmt.Errorf("%w: cannot delete root directory", ErrInvalidOperation)
	}

	c.mu.Lock()
	dir, ok := c.dirs[path]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if !dir.IsEmpty() && !recursive {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotEmpty, path)
	}

	var dirs []*types.Directory
	var files []*types.File
	c.collectSubtreeLocked(dir, &dirs, &files)

	for _, d := range dirs {
		if !c.canModify(d.Owner, requester) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s may not delete %s", ErrPermissionDenied, requester, d.Path)
		}
	}
	for _, f := range files {
		if !c.canModify(f.Owner, requester) {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s may not delete %s", ErrPermissionDenied, requester, f.Path)
		}
	}

	purge := make(map[types.WorkerID][]types.BlockID)
	for _, f := range files {
		for worker, ids := range c.removeFileLocked(f) {
			purge[worker] = append(purge[worker], ids...)
		}
	}
	// dirs is in post-order: children before their parent.
	for _, d := range dirs {
		if parent, ok := c.dirs[getParentPath(d.Path)]; ok {
			delete(parent.Dirs, getBaseName(d.Path))
		}
		delete(c.dirs, d.Path)
	}
	c.mu.Unlock()

	c.logger.Info("Directory deleted",
		zap.String("path", path),
		zap.Bool("recursive", recursive),
		zap.Int("directories", len(dirs)),
		zap.Int("files", len(files)))
	c.dispatchDeletes(purge)
	return nil
}

func (c *Coordinator) collectSubtreeLocked(dir *types.Directory, dirs *[]*types.Directory, files *[]*types.File) {
	for _, name := range sortedNames(dir.Dirs) {
		if child, ok := c.dirs[joinPath(dir.Path, name)]; ok {
			c.collectSubtreeLocked(child, dirs, files)
		}
	}
	for _, name := range sortedNames(dir.Files) {
		if f, ok := c.files[joinPath(dir.Path, name)]; ok {
			*files = append(*files, f)
		}
	}
	*dirs = append(*dirs, dir)
}

// MoveFile renames src to dst, updating both parent directories and the
// block records in one step.
func (c *Coordinator) MoveFile(src, dst, requester string) error {
	src = NormalizePath(src)
	dst = NormalizePath(dst)
	if err := validateEntryName(dst); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	file, ok := c.files[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if !c.canModify(file.Owner, requester) {
		return fmt.Errorf("%w: %s may not move %s", ErrPermissionDenied, requester, src)
	}
	if src == dst {
		return nil
	}
	dstParent, err := c.parentForCreateLocked(dst)
	if err != nil {
		return err
	}

	if srcParent, ok := c.dirs[getParentPath(src)]; ok {
		delete(srcParent.Files, file.Name)
	}
	delete(c.files, src)

	file.Path = dst
	file.Name = getBaseName(dst)
	file.ModifiedAt = c.now()
	c.files[dst] = file
	dstParent.Files[file.Name] = struct{}{}

	for _, id := range file.BlockIDs {
		if b, ok := c.blocks[id]; ok {
			b.FilePath = dst
		}
	}

	c.logger.Info("File moved", zap.String("from", src), zap.String("to", dst))
	return nil
}

// ListDirectory returns the children of path, directories first. An empty or
// privileged owner filter lists everything.
func (c *Coordinator) ListDirectory(path, ownerFilter string) ([]types.Entry, error) {
	path = NormalizePath(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	dir, ok := c.dirs[path]
	if !ok {
		if _, isFile := c.files[path]; isFile {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidOperation, path)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	showAll := ownerFilter == "" || c.isPrivileged(ownerFilter)
	entries := make([]types.Entry, 0, len(dir.Dirs)+len(dir.Files))
	for _, name := range sortedNames(dir.Dirs) {
		child, ok := c.dirs[joinPath(path, name)]
		if !ok || (!showAll && child.Owner != ownerFilter) {
			continue
		}
		entries = append(entries, dirEntry(child))
	}
	for _, name := range sortedNames(dir.Files) {
		f, ok := c.files[joinPath(path, name)]
		if !ok || (!showAll && f.Owner != ownerFilter) {
			continue
		}
		entries = append(entries, fileEntry(f))
	}
	return entries, nil
}

func (c *Coordinator) Stat(path string) (types.Entry, error) {
	path = NormalizePath(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if dir, ok := c.dirs[path]; ok {
		return dirEntry(dir), nil
	}
	if f, ok := c.files[path]; ok {
		return fileEntry(f), nil
	}
	return types.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// SearchFiles returns every file owned by owner, ordered by path.
func (c *Coordinator) SearchFiles(owner string) []types.File {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []types.File
	for _, f := range c.files {
		if f.Owner == owner {
			out = append(out, *f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FileLayout returns the ordered block plan of a file.
func (c *Coordinator) FileLayout(path string) (*types.FileLayout, error) {
	path = NormalizePath(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return c.layoutLocked(f), nil
}

func (c *Coordinator) layoutLocked(f *types.File) *types.FileLayout {
	layout := &types.FileLayout{
		File:   *f.Clone(),
		Blocks: make([]types.Block, 0, len(f.BlockIDs)),
	}
	for _, id := range f.BlockIDs {
		if b, ok := c.blocks[id]; ok {
			layout.Blocks = append(layout.Blocks, *b.Clone())
		}
	}
	return layout
}

func dirEntry(d *types.Directory) types.Entry {
	return types.Entry{
		Name:       getBaseName(d.Path),
		Path:       d.Path,
		IsDir:      true,
		Owner:      d.Owner,
		ModifiedAt: d.CreatedAt,
	}
}

func fileEntry(f *types.File) types.Entry {
	return types.Entry{
		Name:       f.Name,
		Path:       f.Path,
		Owner:      f.Owner,
		Size:       f.Size,
		State:      f.State,
		ModifiedAt: f.ModifiedAt,
	}
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
