package archvt

import "sync"

// Sim is an in-process stand-in for the real hardware vtables,
// playing the role the teacher's "qemu" build tag plays for its
// framebuffer/timer/GIC code (src/go/mazarin/*_qemu.go): a simulated
// target so the rest of the kernel can run without real silicon. Sim
// implements PagingVTable, IOVTable and IRQVTable.
type Sim struct {
	mu      sync.Mutex
	current PageDirID
	invals  []uint32 // recorded InvalidatePage calls, for tests
	ports   map[uint16]uint16
	irqs    map[int]bool
	irqsOn  bool
}

// NewSim builds a fresh simulated arch layer.
func NewSim() *Sim {
	return &Sim{
		ports: make(map[uint16]uint16),
		irqs:  make(map[int]bool),
	}
}

func (s *Sim) LoadCR3(id PageDirID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
	// A CR3 reload is a full TLB flush (spec.md §5).
	s.invals = nil
}

func (s *Sim) InvalidatePage(vaddr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invals = append(s.invals, vaddr)
}

func (s *Sim) Current() PageDirID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Invalidated reports the virtual pages InvalidatePage was called
// with since the last LoadCR3, for test assertions.
func (s *Sim) Invalidated() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.invals))
	copy(out, s.invals)
	return out
}

func (s *Sim) InB(port uint16) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint8(s.ports[port])
}

func (s *Sim) OutB(port uint16, value uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[port] = uint16(value)
}

func (s *Sim) InW(port uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ports[port]
}

func (s *Sim) OutW(port uint16, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[port] = value
}

func (s *Sim) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqsOn = true
}

func (s *Sim) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqsOn = false
}

func (s *Sim) Pending(line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irqs[line]
}

func (s *Sim) Acknowledge(line int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.irqs, line)
}

// Fire marks line pending, simulating an ISR delivering an interrupt.
// Test-only helper standing in for real hardware raising the line.
func (s *Sim) Fire(line int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irqs[line] = true
}

// SimStack implements StackVTable over RegisterFrame's fixed
// six-register calling convention (spec.md §4.11).
type SimStack struct{}

func (SimStack) Arg(frame *RegisterFrame, i int) uint32 {
	switch i {
	case 0:
		return frame.EBX
	case 1:
		return frame.ECX
	case 2:
		return frame.EDX
	case 3:
		return frame.ESI
	case 4:
		return frame.EDI
	case 5:
		return frame.EBP
	default:
		return 0
	}
}

func (SimStack) SetReturn(frame *RegisterFrame, value uint32) {
	frame.EAX = value
}
