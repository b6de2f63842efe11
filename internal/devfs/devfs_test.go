package devfs_test

import (
	"testing"

	"nucleus/internal/devfs"
	"nucleus/internal/fstypes"
)

func TestRegisterStandardDevices(t *testing.T) {
	ns := devfs.New()
	if err := ns.RegisterStandardDevices(); err != nil {
		t.Fatalf("RegisterStandardDevices: %v", err)
	}
	for _, name := range []string{"null", "zero", "full", "tty", "console", "tty0", "tty7"} {
		f, err := ns.Open(nil, "/dev/"+name)
		if err != nil {
			t.Fatalf("Open %s: %v", name, err)
		}
		if f == nil {
			t.Fatalf("Open %s returned nil handle", name)
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	ns := devfs.New()
	if err := ns.Register("null", devfs.NodeChar, 1, 3, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := ns.Register("null", devfs.NodeChar, 1, 3, nil); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestNullDeviceReadsZeroWritesAccept(t *testing.T) {
	ns := devfs.New()
	ns.RegisterStandardDevices()
	f, _ := ns.Open(nil, "/dev/null")
	buf := make([]byte, 8)
	n, err := ns.Read(nil, f, 8, buf)
	if err != nil || n != 0 {
		t.Fatalf("Read /dev/null: n=%d err=%v, want n=0", n, err)
	}
	n, err = ns.Write(nil, f, 8, make([]byte, 8))
	if err != nil || n != 8 {
		t.Fatalf("Write /dev/null: n=%d err=%v, want n=8", n, err)
	}
}

func TestZeroDeviceFillsZeros(t *testing.T) {
	ns := devfs.New()
	ns.RegisterStandardDevices()
	f, _ := ns.Open(nil, "/dev/zero")
	buf := make([]byte, 4)
	for i := range buf {
		buf[i] = 0xFF
	}
	n, err := ns.Read(nil, f, 4, buf)
	if err != nil || n != 4 {
		t.Fatalf("Read /dev/zero: n=%d err=%v", n, err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("buf[%d] = %x, want 0", i, b)
		}
	}
}

func TestFullDeviceRejectsWrites(t *testing.T) {
	ns := devfs.New()
	ns.RegisterStandardDevices()
	f, _ := ns.Open(nil, "/dev/full")
	n, err := ns.Write(nil, f, 4, make([]byte, 4))
	if err == nil || n != 0 {
		t.Fatalf("Write /dev/full: n=%d err=%v, want n=0 and an error", n, err)
	}
}

func TestBindTTYRewiresBacking(t *testing.T) {
	ns := devfs.New()
	ns.RegisterStandardDevices()
	stub := &fakeTTY{}
	if err := ns.BindTTY("console", stub); err != nil {
		t.Fatalf("BindTTY: %v", err)
	}
	f, _ := ns.Open(nil, "/dev/console")
	ns.Write(nil, f, 5, []byte("hello"))
	if string(stub.written) != "hello" {
		t.Fatalf("backing write = %q, want %q", stub.written, "hello")
	}
}

func TestLookupStripsDevPrefix(t *testing.T) {
	ns := devfs.New()
	ns.Register("null", devfs.NodeChar, 1, 3, nil)
	if _, err := ns.Open(nil, "null"); err != nil {
		t.Fatalf("Open without /dev/ prefix: %v", err)
	}
}

func TestDevfsRejectsCreateDeleteTruncate(t *testing.T) {
	ns := devfs.New()
	ns.RegisterStandardDevices()
	var part *fstypes.Partition
	if _, err := ns.Create(part, "/dev/whatever"); err == nil {
		t.Fatalf("expected Create to fail")
	}
	if err := ns.Delete(part, "/dev/null"); err == nil {
		t.Fatalf("expected Delete to fail")
	}
	f, _ := ns.Open(part, "/dev/null")
	if err := ns.Truncate(part, f); err == nil {
		t.Fatalf("expected Truncate to fail")
	}
}

type fakeTTY struct {
	written []byte
}

func (f *fakeTTY) Read(buf []byte) (int, error) { return 0, nil }
func (f *fakeTTY) Write(buf []byte) (int, error) {
	f.written = append(f.written, buf...)
	return len(buf), nil
}
