// Package window is the interactive front-end: an ebiten window that
// renders the runtime's draw-request stream and feeds keyboard input back
// as platform key events.
package window

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/transform"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/tliron/commonlog"
	"golang.org/x/image/font/basicfont"

	"github.com/sonagi-emu/sonagi/archive"
	"github.com/sonagi-emu/sonagi/host"
)

// Window presents the handset screen. It is both the DisplaySink the
// runtime draws into and the EventSource it polls input from. Submit and
// Flip arrive from the scheduler goroutine; the ebiten loop runs on its
// own, so the frame lists are mutex-guarded.
type Window struct {
	mu      sync.Mutex
	pending []host.DrawOp
	frame   []host.DrawOp

	events *host.QueueSource
	pkg    *archive.Package
	log    commonlog.Logger

	width  int
	height int
	scale  int
	title  string

	images map[string]*ebiten.Image // decoded resources, by name and by scaled key
}

// New creates a window sized to the handset screen, scaled up by the
// given integer factor for modern displays.
func New(pkg *archive.Package, width, height, scale int) *Window {
	if scale < 1 {
		scale = 1
	}
	title := "sonagi"
	if pkg != nil && pkg.AppName != "" {
		title = pkg.AppName + " - sonagi"
	}
	return &Window{
		events: host.NewQueueSource(),
		pkg:    pkg,
		log:    commonlog.GetLogger("sonagi.window"),
		width:  width,
		height: height,
		scale:  scale,
		title:  title,
		images: make(map[string]*ebiten.Image),
	}
}

// Submit queues one draw request for the frame under construction.
func (w *Window) Submit(op host.DrawOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, op)
}

// Flip presents the accumulated requests as the current frame.
func (w *Window) Flip() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame = append(w.frame[:0], w.pending...)
	w.pending = w.pending[:0]
}

// Poll returns the next buffered input event.
func (w *Window) Poll() (host.Event, bool) {
	return w.events.Poll()
}

// Run opens the window and blocks until it closes or the context is
// cancelled. Must be called from the main goroutine; the runtime itself
// runs elsewhere.
func (w *Window) Run(ctx context.Context) error {
	ebiten.SetWindowSize(w.width*w.scale, w.height*w.scale)
	ebiten.SetWindowTitle(w.title)

	err := ebiten.RunGame(&game{win: w, ctx: ctx})
	if errors.Is(err, ebiten.Termination) {
		return nil
	}
	return err
}

// keyBindings maps host keyboard keys to platform keypad codes.
var keyBindings = map[ebiten.Key]int{
	ebiten.KeyArrowUp:    host.KeyUp,
	ebiten.KeyArrowDown:  host.KeyDown,
	ebiten.KeyArrowLeft:  host.KeyLeft,
	ebiten.KeyArrowRight: host.KeyRight,
	ebiten.KeyEnter:      host.KeySelect,
	ebiten.KeyZ:          host.KeySoft1,
	ebiten.KeyX:          host.KeySoft2,
	ebiten.KeyBackspace:  host.KeyClear,
	ebiten.KeyDigit0:     '0',
	ebiten.KeyDigit1:     '1',
	ebiten.KeyDigit2:     '2',
	ebiten.KeyDigit3:     '3',
	ebiten.KeyDigit4:     '4',
	ebiten.KeyDigit5:     '5',
	ebiten.KeyDigit6:     '6',
	ebiten.KeyDigit7:     '7',
	ebiten.KeyDigit8:     '8',
	ebiten.KeyDigit9:     '9',
}

type game struct {
	win *Window
	ctx context.Context
}

func (g *game) Update() error {
	select {
	case <-g.ctx.Done():
		return ebiten.Termination
	default:
	}

	for key, code := range keyBindings {
		if inpututil.IsKeyJustPressed(key) {
			g.win.events.Push(host.Event{Kind: host.EventKeyDown, Code: code})
		}
		if inpututil.IsKeyJustReleased(key) {
			g.win.events.Push(host.Event{Kind: host.EventKeyUp, Code: code})
		}
	}

	if inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft) {
		x, y := ebiten.CursorPosition()
		g.win.events.Push(host.Event{Kind: host.EventPointer, X: x, Y: y})
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	w := g.win
	w.mu.Lock()
	ops := append([]host.DrawOp(nil), w.frame...)
	w.mu.Unlock()

	screen.Fill(color.Black)
	dst := screen
	for _, op := range ops {
		switch op.Kind {
		case host.OpSetClip:
			rect := image.Rect(op.X, op.Y, op.X+op.W, op.Y+op.H)
			dst = screen.SubImage(rect).(*ebiten.Image)
		case host.OpClear:
			dst.Fill(rgb(op.Color))
		case host.OpFillRect:
			vector.DrawFilledRect(dst, float32(op.X), float32(op.Y), float32(op.W), float32(op.H), rgb(op.Color), false)
		case host.OpDrawRect:
			vector.StrokeRect(dst, float32(op.X), float32(op.Y), float32(op.W), float32(op.H), 1, rgb(op.Color), false)
		case host.OpDrawLine:
			vector.StrokeLine(dst, float32(op.X), float32(op.Y), float32(op.X2), float32(op.Y2), 1, rgb(op.Color), false)
		case host.OpDrawText:
			text.Draw(dst, op.Text, basicfont.Face7x13, op.X, op.Y, rgb(op.Color))
		case host.OpBlit:
			w.blit(dst, op)
		}
	}
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.win.width, g.win.height
}

func rgb(c uint32) color.RGBA {
	return color.RGBA{
		R: uint8(c >> 16),
		G: uint8(c >> 8),
		B: uint8(c),
		A: 0xFF,
	}
}

// blit draws a resource-backed image, resizing through bild when the
// requested size differs from the natural one. Decoded and resized
// textures are cached.
func (w *Window) blit(dst *ebiten.Image, op host.DrawOp) {
	img := w.texture(op.Image, op.W, op.H)
	if img == nil {
		return
	}
	o := &ebiten.DrawImageOptions{}
	o.GeoM.Translate(float64(op.X), float64(op.Y))
	dst.DrawImage(img, o)
}

func (w *Window) texture(name string, width, height int) *ebiten.Image {
	key := name
	if width > 0 && height > 0 {
		key = fmt.Sprintf("%s@%dx%d", name, width, height)
	}

	w.mu.Lock()
	cached, ok := w.images[key]
	w.mu.Unlock()
	if ok {
		return cached
	}

	if w.pkg == nil {
		return nil
	}
	data := w.pkg.Resource(name)
	if data == nil {
		w.log.Warningf("blit of unknown resource %q", name)
		return nil
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		w.log.Warningf("resource %q does not decode: %s", name, err)
		return nil
	}
	if width > 0 && height > 0 && (decoded.Bounds().Dx() != width || decoded.Bounds().Dy() != height) {
		decoded = transform.Resize(decoded, width, height, transform.NearestNeighbor)
	}
	tex := ebiten.NewImageFromImage(decoded)

	w.mu.Lock()
	w.images[key] = tex
	w.mu.Unlock()
	return tex
}
