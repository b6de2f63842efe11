// Package vfs implements the mount table and path resolution spec.md
// §4.7 describes: a fixed-capacity table of mount points, each bound
// to a partition's filesystem vtable, with longest-prefix-at-a-
// component-boundary resolution handing the tail path to whichever
// backend (internal/fat, internal/devfs) owns that mount.
//
// Grounded on the gvisor reference file's path-walk/mount-lookup shape
// (a8e87a38..gvisor__pkg-sentry-fsimpl-dev-dev.go.go - reference only,
// not a teacher): a mount is resolved by prefix match against a flat
// table rather than gvisor's full dentry tree, matching spec.md §4.7's
// simpler "longest prefix" contract.
package vfs

import (
	"strings"

	"nucleus/internal/bootcfg"
	"nucleus/internal/fstypes"
	"nucleus/internal/kerr"
)

// mountEntry is one live row of the mount table.
type mountEntry struct {
	point string
	part  *fstypes.Partition
}

// VFS is the mount table (spec.md §4.7 "Mount table keeps up to 8
// entries").
type VFS struct {
	mounts [bootcfg.MountTableCapacity]mountEntry
	used   [bootcfg.MountTableCapacity]bool
}

// New returns an empty mount table.
func New() *VFS {
	return &VFS{}
}

// normalizeMountPoint enforces spec.md §4.7's "must begin with /, strip
// trailing slashes except root" rule.
func normalizeMountPoint(point string) (string, error) {
	if point == "" || point[0] != '/' {
		return "", kerr.New(kerr.InvalidInput, "vfs.normalizeMountPoint", "mount point must begin with /")
	}
	if point == "/" {
		return "/", nil
	}
	trimmed := strings.TrimRight(point, "/")
	if trimmed == "" {
		return "/", nil
	}
	return trimmed, nil
}

// Mount registers part's filesystem at point. point "/" or the devfs
// slot (bootcfg.DevfsReservedMountSlot) are not otherwise special-cased
// here; devfs.Namespace is responsible for landing itself in the
// reserved slot via MountAt.
func (v *VFS) Mount(point string, part *fstypes.Partition) error {
	return v.mountAt(-1, point, part)
}

// MountAt registers part's filesystem at a specific table slot,
// letting devfs claim bootcfg.DevfsReservedMountSlot so its mount
// "survives disk re-scans" (spec.md §4.8) instead of competing for a
// slot with hot-pluggable disk partitions.
func (v *VFS) MountAt(slot int, point string, part *fstypes.Partition) error {
	if slot < 0 || slot >= bootcfg.MountTableCapacity {
		return kerr.New(kerr.InvalidInput, "vfs.MountAt", "mount slot out of range")
	}
	return v.mountAt(slot, point, part)
}

func (v *VFS) mountAt(slot int, point string, part *fstypes.Partition) error {
	if part == nil || part.FS == nil || part.FS.Ops == nil {
		return kerr.New(kerr.InvalidInput, "vfs.Mount", "partition has no bound filesystem operations")
	}
	norm, err := normalizeMountPoint(point)
	if err != nil {
		return err
	}
	for i := range v.mounts {
		if v.used[i] && v.mounts[i].point == norm {
			return kerr.New(kerr.InvalidInput, "vfs.Mount", "mount point already in use")
		}
	}
	if slot >= 0 {
		if v.used[slot] {
			return kerr.New(kerr.InvalidInput, "vfs.MountAt", "requested slot already occupied")
		}
	} else {
		slot = -1
		for i := range v.used {
			if !v.used[i] {
				slot = i
				break
			}
		}
		if slot < 0 {
			return kerr.New(kerr.ResourceExhausted, "vfs.Mount", "mount table is full")
		}
	}
	v.mounts[slot] = mountEntry{point: norm, part: part}
	v.used[slot] = true
	part.FS.Mounted = true
	return nil
}

// Unmount clears the entry bound to part, allowing a disk re-scan to
// tear down and re-register volumes (spec.md §4.5 "hot-pluggable
// disks").
func (v *VFS) Unmount(part *fstypes.Partition) error {
	for i := range v.mounts {
		if v.used[i] && v.mounts[i].part == part {
			v.used[i] = false
			v.mounts[i] = mountEntry{}
			part.FS.Mounted = false
			return nil
		}
	}
	return kerr.New(kerr.InvalidInput, "vfs.Unmount", "partition is not mounted")
}

// resolve picks the mount whose point is the longest prefix of path
// that terminates at a component boundary (spec.md §4.7), returning
// the matched partition and the per-filesystem relative path.
func (v *VFS) resolve(path string) (*fstypes.Partition, string, error) {
	if path == "" || path[0] != '/' {
		return nil, "", kerr.New(kerr.InvalidInput, "vfs.resolve", "path must be absolute")
	}
	bestIdx := -1
	bestLen := -1
	for i := range v.mounts {
		if !v.used[i] {
			continue
		}
		p := v.mounts[i].point
		if !strings.HasPrefix(path, p) {
			continue
		}
		if len(p) > 1 {
			rest := path[len(p):]
			if rest != "" && rest[0] != '/' {
				continue
			}
		}
		if len(p) > bestLen {
			bestLen = len(p)
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, "", kerr.New(kerr.InvalidInput, "vfs.resolve", "no mount covers path")
	}
	entry := v.mounts[bestIdx]
	tail := path[len(entry.point):]
	if tail == "" {
		tail = "/"
	}
	return entry.part, tail, nil
}

// File is the VFS-level open handle: the per-filesystem File plus the
// mount it belongs to, with size and is-directory cached at open time
// (spec.md §4.7 "wrapped in a VFS file object that caches size and
// is-directory").
type File struct {
	part   *fstypes.Partition
	fsFile fstypes.File
	size   int64
	isDir  bool
	closed bool
}

func (v *VFS) wrap(part *fstypes.Partition, f fstypes.File) *File {
	ops := part.FS.Ops
	return &File{
		part:   part,
		fsFile: f,
		size:   ops.GetSize(f),
		isDir:  ops.IsDir(f),
	}
}

// Open resolves path and opens it through the owning filesystem.
func (v *VFS) Open(path string) (*File, error) {
	part, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := part.FS.Ops.Open(part, rel)
	if err != nil {
		return nil, err
	}
	return v.wrap(part, f), nil
}

// Create resolves path and creates it through the owning filesystem
// (backs the O_CREAT open flag, spec.md §4.10).
func (v *VFS) Create(path string) (*File, error) {
	part, rel, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := part.FS.Ops.Create(part, rel)
	if err != nil {
		return nil, err
	}
	return v.wrap(part, f), nil
}

// Delete resolves path and removes it through the owning filesystem.
func (v *VFS) Delete(path string) error {
	part, rel, err := v.resolve(path)
	if err != nil {
		return err
	}
	return part.FS.Ops.Delete(part, rel)
}

// Read reads up to n bytes from f into buf.
func (v *VFS) Read(f *File, n int, buf []byte) (int, error) {
	if f.closed {
		return 0, kerr.New(kerr.InvalidInput, "vfs.Read", "file is closed")
	}
	return f.part.FS.Ops.Read(f.part, f.fsFile, n, buf)
}

// Write writes up to n bytes from buf into f, refreshing the cached
// size (spec.md §4.7's VFS file object tracks size at open time; a
// successful write can grow it, so it is kept current on every call).
func (v *VFS) Write(f *File, n int, buf []byte) (int, error) {
	if f.closed {
		return 0, kerr.New(kerr.InvalidInput, "vfs.Write", "file is closed")
	}
	written, err := f.part.FS.Ops.Write(f.part, f.fsFile, n, buf)
	f.size = f.part.FS.Ops.GetSize(f.fsFile)
	return written, err
}

// Truncate truncates f (backs the O_TRUNC open flag, spec.md §4.10).
func (v *VFS) Truncate(f *File) error {
	if f.closed {
		return kerr.New(kerr.InvalidInput, "vfs.Truncate", "file is closed")
	}
	err := f.part.FS.Ops.Truncate(f.part, f.fsFile)
	f.size = f.part.FS.Ops.GetSize(f.fsFile)
	return err
}

// Seek repositions f.
func (v *VFS) Seek(f *File, pos int64) error {
	if f.closed {
		return kerr.New(kerr.InvalidInput, "vfs.Seek", "file is closed")
	}
	return f.part.FS.Ops.Seek(f.part, f.fsFile, pos)
}

// Close releases f's underlying filesystem handle.
func (v *VFS) Close(f *File) {
	if f.closed {
		return
	}
	f.part.FS.Ops.Close(f.fsFile)
	f.closed = true
}

// Size returns the cached size captured at open/create time (and
// refreshed on Write/Truncate).
func (f *File) Size() int64 { return f.size }

// IsDir returns the cached is-directory flag.
func (f *File) IsDir() bool { return f.isDir }
