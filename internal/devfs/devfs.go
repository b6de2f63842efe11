// Package devfs implements the in-memory device-node namespace spec.md
// §4.8 describes: a fixed-capacity table of {name, type, major, minor,
// size, operations, private-data, in-use} nodes, itself exposed as an
// fstypes.FSOperations backend so internal/vfs can mount it exactly
// like a disk filesystem.
//
// Grounded on the gvisor reference file's node-registration/dispatch
// shape (a8e87a38..gvisor__pkg-sentry-fsimpl-dev-dev.go.go - reference
// only, not a teacher), simplified from gvisor's dentry/inode split
// down to spec.md §4.8's flat node table.
package devfs

import (
	"strings"

	"nucleus/internal/bootcfg"
	"nucleus/internal/fstypes"
	"nucleus/internal/kerr"
)

// NodeType classifies a device node (spec.md §4.8).
type NodeType int

const (
	NodeChar NodeType = iota
	NodeBlock
	NodeDir
)

// DeviceOps is a device node's {read, write, ioctl, close} operation
// set (spec.md §4.8).
type DeviceOps interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Ioctl(cmd uintptr, arg uintptr) (uintptr, error)
	Close() error
}

// Node is one registered device.
type Node struct {
	Name    string
	Type    NodeType
	Major   int
	Minor   int
	Size    int64
	Ops     DeviceOps
	Private interface{}
	inUse   bool
}

// Namespace is the fixed-capacity device-node table (spec.md §4.8
// "enforcing a maximum count").
type Namespace struct {
	nodes [bootcfg.DevfsMaxNodes]Node
	used  [bootcfg.DevfsMaxNodes]bool
}

// New returns an empty namespace with no standard devices registered.
func New() *Namespace {
	return &Namespace{}
}

// Register adds a node, refusing duplicate names and enforcing
// DevfsMaxNodes.
func (ns *Namespace) Register(name string, typ NodeType, major, minor int, ops DeviceOps) error {
	for i := range ns.nodes {
		if ns.used[i] && ns.nodes[i].Name == name {
			return kerr.New(kerr.InvalidInput, "devfs.Register", "device node already registered: "+name)
		}
	}
	for i := range ns.used {
		if !ns.used[i] {
			ns.nodes[i] = Node{Name: name, Type: typ, Major: major, Minor: minor, Ops: ops, inUse: true}
			ns.used[i] = true
			return nil
		}
	}
	return kerr.New(kerr.ResourceExhausted, "devfs.Register", "device namespace is full")
}

// lookup strips a leading "/dev/" (spec.md §4.8 "leading /dev/
// stripped during lookup") and finds the node by the remaining name.
func (ns *Namespace) lookup(path string) (*Node, error) {
	name := strings.TrimPrefix(path, "/dev/")
	name = strings.TrimPrefix(name, "/")
	for i := range ns.nodes {
		if ns.used[i] && ns.nodes[i].Name == name {
			return &ns.nodes[i], nil
		}
	}
	return nil, kerr.New(kerr.InvalidInput, "devfs.lookup", "no such device: "+name)
}

// RegisterStandardDevices wires up the devices spec.md §4.8 requires
// at init: null, zero, full, tty, console (bound to terminal device
// 0), tty0..tty7. tty/console/ttyN start out bound to a discarding
// stub; BindTTY rewires them once internal/terminal constructs real
// line-discipline devices during boot.
func (ns *Namespace) RegisterStandardDevices() error {
	if err := ns.Register("null", NodeChar, 1, 3, nullDevice{}); err != nil {
		return err
	}
	if err := ns.Register("zero", NodeChar, 1, 5, zeroDevice{}); err != nil {
		return err
	}
	if err := ns.Register("full", NodeChar, 1, 7, fullDevice{}); err != nil {
		return err
	}
	if err := ns.Register("console", NodeChar, 5, 1, &ttyDevice{}); err != nil {
		return err
	}
	if err := ns.Register("tty", NodeChar, 5, 0, &ttyDevice{}); err != nil {
		return err
	}
	for i := 0; i < 8; i++ {
		if err := ns.Register(ttyName(i), NodeChar, 4, i, &ttyDevice{}); err != nil {
			return err
		}
	}
	return nil
}

func ttyName(i int) string {
	return "tty" + string(rune('0'+i))
}

// BindTTY rewires an already-registered tty/console/ttyN node to a
// real line-discipline device (internal/terminal), which does not
// exist yet at RegisterStandardDevices time during early boot.
func (ns *Namespace) BindTTY(name string, io TTYIO) error {
	n, err := ns.lookup("/dev/" + name)
	if err != nil {
		return err
	}
	t, ok := n.Ops.(*ttyDevice)
	if !ok {
		return kerr.New(kerr.InvalidInput, "devfs.BindTTY", "node is not a tty device: "+name)
	}
	t.backing = io
	return nil
}

// --- fstypes.FSOperations implementation ---

var _ fstypes.FSOperations = (*Namespace)(nil)

// Open resolves path to a device node. A devfs File handle is just a
// *Node.
func (ns *Namespace) Open(_ *fstypes.Partition, path string) (fstypes.File, error) {
	return ns.lookup(path)
}

// Create is not supported: devfs nodes exist only via Register.
func (ns *Namespace) Create(*fstypes.Partition, string) (fstypes.File, error) {
	return nil, kerr.New(kerr.InvalidInput, "devfs.Create", "devfs does not support file creation")
}

func asNode(f fstypes.File) (*Node, error) {
	n, ok := f.(*Node)
	if !ok || n == nil {
		return nil, kerr.New(kerr.InvalidInput, "devfs", "not a devfs handle")
	}
	return n, nil
}

// Read delegates to the node's DeviceOps.Read.
func (ns *Namespace) Read(_ *fstypes.Partition, f fstypes.File, n int, buf []byte) (int, error) {
	node, err := asNode(f)
	if err != nil {
		return 0, err
	}
	if n > len(buf) {
		n = len(buf)
	}
	return node.Ops.Read(buf[:n])
}

// Write delegates to the node's DeviceOps.Write.
func (ns *Namespace) Write(_ *fstypes.Partition, f fstypes.File, n int, buf []byte) (int, error) {
	node, err := asNode(f)
	if err != nil {
		return 0, err
	}
	if n > len(buf) {
		n = len(buf)
	}
	return node.Ops.Write(buf[:n])
}

// Seek is a no-op: device nodes have no byte offset concept
// (spec.md §4.8 names no seek in a device's operation set).
func (ns *Namespace) Seek(*fstypes.Partition, fstypes.File, int64) error {
	return nil
}

// Close delegates to the node's DeviceOps.Close.
func (ns *Namespace) Close(f fstypes.File) {
	if node, err := asNode(f); err == nil {
		node.Ops.Close()
	}
}

// GetSize returns the node's fixed size field.
func (ns *Namespace) GetSize(f fstypes.File) int64 {
	node, err := asNode(f)
	if err != nil {
		return 0
	}
	return node.Size
}

// Delete is not supported: device nodes are removed only by process
// teardown of the namespace itself, not by path.
func (ns *Namespace) Delete(*fstypes.Partition, string) error {
	return kerr.New(kerr.InvalidInput, "devfs.Delete", "devfs does not support deletion")
}

// IsDir reports the node's directory flag.
func (ns *Namespace) IsDir(f fstypes.File) bool {
	node, err := asNode(f)
	if err != nil {
		return false
	}
	return node.Type == NodeDir
}

// Truncate is not supported: device nodes have no backing extent to
// shrink.
func (ns *Namespace) Truncate(*fstypes.Partition, fstypes.File) error {
	return kerr.New(kerr.InvalidInput, "devfs.Truncate", "devfs does not support truncation")
}
