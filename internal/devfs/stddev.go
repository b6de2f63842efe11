package devfs

import "nucleus/internal/kerr"

// nullDevice, zeroDevice and fullDevice implement spec.md §4.8's
// three synthetic standard devices directly; none carries state so
// none needs a constructor.
type nullDevice struct{}

func (nullDevice) Read([]byte) (int, error)                { return 0, nil }
func (nullDevice) Write(buf []byte) (int, error)            { return len(buf), nil }
func (nullDevice) Ioctl(uintptr, uintptr) (uintptr, error)  { return 0, nil }
func (nullDevice) Close() error                             { return nil }

type zeroDevice struct{}

func (zeroDevice) Read(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (zeroDevice) Write(buf []byte) (int, error)           { return len(buf), nil }
func (zeroDevice) Ioctl(uintptr, uintptr) (uintptr, error) { return 0, nil }
func (zeroDevice) Close() error                            { return nil }

type fullDevice struct{}

func (fullDevice) Read(buf []byte) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}
func (fullDevice) Write([]byte) (int, error) {
	return 0, kerr.New(kerr.ResourceExhausted, "devfs.fullDevice.Write", "device is full")
}
func (fullDevice) Ioctl(uintptr, uintptr) (uintptr, error) { return 0, nil }
func (fullDevice) Close() error                            { return nil }

// TTYIO is the minimal line-discipline surface a tty/console node
// needs (internal/terminal implements it); kept here rather than
// imported directly so devfs never depends on terminal and can
// register tty nodes before the terminal subsystem exists during
// boot (see BindTTY).
type TTYIO interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// ttyDevice forwards to a TTYIO bound later via BindTTY. Before
// binding, reads return EOF and writes are discarded, matching a
// detached terminal.
type ttyDevice struct {
	backing TTYIO
}

func (t *ttyDevice) Read(buf []byte) (int, error) {
	if t.backing == nil {
		return 0, nil
	}
	return t.backing.Read(buf)
}

func (t *ttyDevice) Write(buf []byte) (int, error) {
	if t.backing == nil {
		return len(buf), nil
	}
	return t.backing.Write(buf)
}

func (t *ttyDevice) Ioctl(uintptr, uintptr) (uintptr, error) { return 0, nil }
func (t *ttyDevice) Close() error                             { return nil }
