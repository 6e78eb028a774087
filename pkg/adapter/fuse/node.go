package fuse

import (
	"context"
	"syscall"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/vfs"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// blockSize is the preferred I/O size reported to the kernel.
const blockSize = 128 * 1024

// node is one group or dataset of the mounted tree. The entry is resolved
// once at lookup; the store does not change while mounted.
type node struct {
	gofuse.Inode

	fs    *vfs.FS
	entry *store.Entry
}

var (
	_ gofuse.NodeGetattrer = (*node)(nil)
	_ gofuse.NodeLookuper  = (*node)(nil)
	_ gofuse.NodeReaddirer = (*node)(nil)
	_ gofuse.NodeOpener    = (*node)(nil)
	_ gofuse.NodeReader    = (*node)(nil)
	_ gofuse.NodeSetattrer = (*node)(nil)
	_ gofuse.NodeCreater   = (*node)(nil)
	_ gofuse.NodeMkdirer   = (*node)(nil)
	_ gofuse.NodeUnlinker  = (*node)(nil)
	_ gofuse.NodeRmdirer   = (*node)(nil)
	_ gofuse.NodeRenamer   = (*node)(nil)
)

func (n *node) virtualPath() string {
	return n.fs.VirtualPath(n.entry)
}

// ============================================================================
// Read Operations
// ============================================================================

// Getattr answers stat(2).
func (n *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fs.Stat(n.entry)
	if err != nil {
		return toErrno("getattr", n.virtualPath(), err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Lookup resolves one child name.
func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := store.Join(n.virtualPath(), name)

	entry, attr, err := n.fs.StatPath(ctx, childPath)
	if err != nil {
		return nil, toErrno("lookup", childPath, err)
	}
	fillAttr(&out.Attr, attr)

	child := &node{fs: n.fs, entry: entry}
	return n.NewInode(ctx, child, gofuse.StableAttr{Mode: fileType(attr)}), 0
}

// Readdir lists the group. The kernel adds "." and "..".
func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for child, err := range n.fs.ReadDir(ctx, n.entry) {
		if err != nil {
			return nil, toErrno("readdir", n.virtualPath(), err)
		}
		mode := uint32(syscall.S_IFREG)
		if child.Entry.Kind == store.KindGroup {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: child.Name, Mode: mode})
	}
	return gofuse.NewListDirStream(entries), 0
}

// Open admits read-only opens of datasets. No file handle is needed: reads
// go straight to the entry.
func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if err := vfs.CheckAccess(int(flags)); err != nil {
		return nil, 0, toErrno("open", n.virtualPath(), err)
	}
	if err := vfs.AssertReadable(n.entry); err != nil {
		return nil, 0, toErrno("open", n.virtualPath(), err)
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

// Read serves one read request from the virtual file.
func (n *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off < 0 {
		return nil, syscall.EINVAL
	}
	count, err := n.fs.ReadAt(ctx, n.entry, dest, uint64(off))
	if err != nil {
		return nil, toErrno("read", n.virtualPath(), err)
	}
	return fuse.ReadResultData(dest[:count]), 0
}

// ============================================================================
// Mutations (always refused)
// ============================================================================

func (n *node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

// ============================================================================
// Helpers
// ============================================================================

func fileType(attr *vfs.Attr) uint32 {
	if attr.IsDir() {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func fillAttr(out *fuse.Attr, attr *vfs.Attr) {
	out.Mode = fileType(attr) | uint32(attr.Mode.Perm())
	out.Size = attr.Size
	out.Blocks = (attr.Size + 511) / 512
	out.Blksize = blockSize
	out.Nlink = attr.Nlink
	out.Uid = attr.UID
	out.Gid = attr.GID
}
