// Package host holds the collaborator seams between the runtime core and
// the outside world: display, input, persistence and diagnostics. The core
// only ever talks to these interfaces; concrete front-ends (the ebiten
// window, the terminal input source, the sqlite record store) live behind
// them.
package host

import "sync"

// OpKind identifies a draw/update request.
type OpKind int

const (
	OpClear OpKind = iota // fill the whole canvas with Color
	OpFillRect
	OpDrawRect
	OpDrawLine // (X,Y) to (X2,Y2)
	OpDrawText // Text at (X,Y), baseline left
	OpBlit     // image blit by resource name; W/H 0 means natural size
	OpSetClip
)

var opKindNames = map[OpKind]string{
	OpClear:    "CLEAR",
	OpFillRect: "FILL_RECT",
	OpDrawRect: "DRAW_RECT",
	OpDrawLine: "DRAW_LINE",
	OpDrawText: "DRAW_TEXT",
	OpBlit:     "BLIT",
	OpSetClip:  "SET_CLIP",
}

// String implements the Stringer interface.
func (k OpKind) String() string {
	if n, ok := opKindNames[k]; ok {
		return n
	}
	return "UNKNOWN"
}

// DrawOp is one drawing request emitted by the runtime. The core never
// produces raw pixel buffers; blits reference archive resources by name.
type DrawOp struct {
	Kind   OpKind
	X, Y   int
	X2, Y2 int
	W, H   int
	Color  uint32 // 0x00RRGGBB
	Text   string
	Image  string // resource name for OpBlit
}

// DisplaySink receives the ordered draw-request stream for one canvas.
// Submitted ops accumulate until Flip, which presents the frame.
type DisplaySink interface {
	Submit(op DrawOp)
	Flip()
}

// TraceSink records every submitted op and flip. It backs tests and the
// --trace-display diagnostic mode.
type TraceSink struct {
	mu    sync.Mutex
	ops   []DrawOp
	flips int
}

// NewTraceSink creates an empty trace sink.
func NewTraceSink() *TraceSink {
	return &TraceSink{}
}

// Submit appends the op to the trace.
func (s *TraceSink) Submit(op DrawOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// Flip records a frame boundary.
func (s *TraceSink) Flip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flips++
}

// Ops returns a copy of all recorded ops.
func (s *TraceSink) Ops() []DrawOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DrawOp, len(s.ops))
	copy(out, s.ops)
	return out
}

// Flips returns the number of presented frames.
func (s *TraceSink) Flips() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flips
}

// NullSink discards everything. Used when no display front-end is attached.
type NullSink struct{}

func (NullSink) Submit(DrawOp) {}
func (NullSink) Flip()         {}
