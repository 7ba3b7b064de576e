package vm

import (
	"bytes"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"github.com/sonagi-emu/sonagi/host"
)

// org/kwis/msp/lcdui natives: the Jlet lifecycle, the display/card
// surface, and the Graphics draw-request emitter. Drawing never touches
// pixels here; every call becomes a host.DrawOp for the sink.

const (
	lcduiJlet     = "org/kwis/msp/lcdui/Jlet"
	lcduiDisplay  = "org/kwis/msp/lcdui/Display"
	lcduiCard     = "org/kwis/msp/lcdui/Card"
	lcduiGraphics = "org/kwis/msp/lcdui/Graphics"
	lcduiImage    = "org/kwis/msp/lcdui/Image"
	lcduiFont     = "org/kwis/msp/lcdui/Font"
)

func registerLcduiNatives(b *Bridge) {
	b.Register(lcduiJlet, "<init>", "()V", nativeNop)
	b.Register(lcduiJlet, "startApp", "([Ljava/lang/String;)V", nativeNop)
	b.Register(lcduiJlet, "pauseApp", "()V", nativeNop)
	b.Register(lcduiJlet, "destroyApp", "(Z)V", nativeNop)
	b.Register(lcduiJlet, "notifyDestroyed", "()V", jletNotifyDestroyed)
	b.Register(lcduiJlet, "getActiveJlet", "()Lorg/kwis/msp/lcdui/Jlet;", jletGetActive)

	b.Register(lcduiDisplay, "getDefaultDisplay", "()Lorg/kwis/msp/lcdui/Display;", displayGetDefault)
	b.Register(lcduiDisplay, "pushCard", "(Lorg/kwis/msp/lcdui/Card;)V", displayPushCard)
	b.Register(lcduiDisplay, "removeAllCards", "()V", displayRemoveAll)
	b.Register(lcduiDisplay, "getWidth", "()I", screenWidth)
	b.Register(lcduiDisplay, "getHeight", "()I", screenHeight)

	b.Register(lcduiCard, "<init>", "()V", nativeNop)
	b.Register(lcduiCard, "paint", "(Lorg/kwis/msp/lcdui/Graphics;)V", nativeNop)
	b.Register(lcduiCard, "keyNotify", "(II)Z", nativeFalse)
	b.Register(lcduiCard, "penNotify", "(III)Z", nativeFalse)
	b.Register(lcduiCard, "repaint", "()V", cardRepaint)
	b.Register(lcduiCard, "serviceRepaints", "()V", cardServiceRepaints)
	b.Register(lcduiCard, "getWidth", "()I", screenWidth)
	b.Register(lcduiCard, "getHeight", "()I", screenHeight)

	b.Register(lcduiGraphics, "setColor", "(I)V", graphicsSetColor)
	b.Register(lcduiGraphics, "getColor", "()I", graphicsGetColor)
	b.Register(lcduiGraphics, "fillRect", "(IIII)V", graphicsFillRect)
	b.Register(lcduiGraphics, "drawRect", "(IIII)V", graphicsDrawRect)
	b.Register(lcduiGraphics, "drawLine", "(IIII)V", graphicsDrawLine)
	b.Register(lcduiGraphics, "drawString", "(Ljava/lang/String;III)V", graphicsDrawString)
	b.Register(lcduiGraphics, "drawImage", "(Lorg/kwis/msp/lcdui/Image;III)V", graphicsDrawImage)
	b.Register(lcduiGraphics, "setClip", "(IIII)V", graphicsSetClip)

	b.Register(lcduiImage, "createImage", "(Ljava/lang/String;)Lorg/kwis/msp/lcdui/Image;", imageCreate)
	b.Register(lcduiImage, "createImage", "(Lorg/kwis/msp/lcdui/Image;II)Lorg/kwis/msp/lcdui/Image;", imageCreateScaled)
	b.Register(lcduiImage, "getWidth", "()I", imageWidth)
	b.Register(lcduiImage, "getHeight", "()I", imageHeight)

	b.Register(lcduiFont, "getDefaultFont", "()Lorg/kwis/msp/lcdui/Font;", fontGetDefault)
	b.Register(lcduiFont, "getHeight", "()I", fontHeight)
	b.Register(lcduiFont, "stringWidth", "(Ljava/lang/String;)I", fontStringWidth)
}

func nativeFalse(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(0), nil
}

// ---------------------------------------------------------------------------
// Jlet, Display, Card
// ---------------------------------------------------------------------------

func jletNotifyDestroyed(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.stopped = true
	return Null, errYield
}

func jletGetActive(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromRef(ctx.VM.activeJlet), nil
}

func displayGetDefault(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	if vm.displayObj == 0 {
		c, err := vm.registry.Resolve(lcduiDisplay)
		if err != nil {
			return Null, err
		}
		vm.displayObj = vm.heap.Allocate(c)
	}
	return FromRef(vm.displayObj), nil
}

func displayPushCard(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	if args[0].IsNull() {
		return Null, Throw(classNullPointer, "pushCard")
	}
	ctx.VM.activeCard = args[0].Ref()
	ctx.VM.repaint = true
	return Null, nil
}

func displayRemoveAll(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.activeCard = 0
	return Null, nil
}

func screenWidth(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(int32(ctx.VM.screenW)), nil
}

func screenHeight(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(int32(ctx.VM.screenH)), nil
}

func cardRepaint(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.repaint = true
	return Null, nil
}

// cardServiceRepaints requests a paint pass and yields so the event
// thread gets scheduled ahead of the caller's next slice.
func cardServiceRepaints(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.repaint = true
	return Null, errYield
}

// ---------------------------------------------------------------------------
// Graphics
// ---------------------------------------------------------------------------

func graphicsColor(ctx *NativeCtx, recv Value) uint32 {
	v, err := ctx.Field(recv, "color")
	if err != nil {
		return 0
	}
	return uint32(v.Int()) & 0xFFFFFF
}

func graphicsSetColor(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return Null, ctx.SetField(recv, "color", FromInt(args[0].Int()&0xFFFFFF))
}

func graphicsGetColor(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return ctx.Field(recv, "color")
}

func graphicsFillRect(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.sink.Submit(host.DrawOp{
		Kind:  host.OpFillRect,
		X:     int(args[0].Int()),
		Y:     int(args[1].Int()),
		W:     int(args[2].Int()),
		H:     int(args[3].Int()),
		Color: graphicsColor(ctx, recv),
	})
	return Null, nil
}

func graphicsDrawRect(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.sink.Submit(host.DrawOp{
		Kind:  host.OpDrawRect,
		X:     int(args[0].Int()),
		Y:     int(args[1].Int()),
		W:     int(args[2].Int()),
		H:     int(args[3].Int()),
		Color: graphicsColor(ctx, recv),
	})
	return Null, nil
}

func graphicsDrawLine(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.sink.Submit(host.DrawOp{
		Kind:  host.OpDrawLine,
		X:     int(args[0].Int()),
		Y:     int(args[1].Int()),
		X2:    int(args[2].Int()),
		Y2:    int(args[3].Int()),
		Color: graphicsColor(ctx, recv),
	})
	return Null, nil
}

func graphicsDrawString(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}
	// The anchor argument is accepted but text always renders from the
	// left baseline; the sink has no font metrics to anchor against.
	ctx.VM.sink.Submit(host.DrawOp{
		Kind:  host.OpDrawText,
		X:     int(args[1].Int()),
		Y:     int(args[2].Int()),
		Text:  s,
		Color: graphicsColor(ctx, recv),
	})
	return Null, nil
}

func graphicsDrawImage(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	img := args[0]
	if img.IsNull() {
		return Null, Throw(classNullPointer, "drawImage")
	}
	nameVal, err := ctx.Field(img, "name")
	if err != nil {
		return Null, err
	}
	name, err := ctx.GoString(nameVal)
	if err != nil {
		return Null, err
	}
	w, err := ctx.Field(img, "width")
	if err != nil {
		return Null, err
	}
	h, err := ctx.Field(img, "height")
	if err != nil {
		return Null, err
	}
	ctx.VM.sink.Submit(host.DrawOp{
		Kind:  host.OpBlit,
		X:     int(args[1].Int()),
		Y:     int(args[2].Int()),
		W:     int(w.Int()),
		H:     int(h.Int()),
		Image: name,
	})
	return Null, nil
}

func graphicsSetClip(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	names := [4]string{"clipX", "clipY", "clipW", "clipH"}
	for i, n := range names {
		if err := ctx.SetField(recv, n, FromInt(args[i].Int())); err != nil {
			return Null, err
		}
	}
	ctx.VM.sink.Submit(host.DrawOp{
		Kind: host.OpSetClip,
		X:    int(args[0].Int()),
		Y:    int(args[1].Int()),
		W:    int(args[2].Int()),
		H:    int(args[3].Int()),
	})
	return Null, nil
}

// ---------------------------------------------------------------------------
// Image, Font
// ---------------------------------------------------------------------------

// imageCreate builds an Image backed by an archive resource. Dimensions
// come from the image header; pixels stay with the sink.
func imageCreate(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	name, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}
	data := ctx.VM.pkg.Resource(name)
	if data == nil {
		return Null, Throw(classRuntime, "no resource %q", name)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Null, Throw(classRuntime, "resource %q is not a decodable image", name)
	}
	return ctx.VM.newImage(name, int32(cfg.Width), int32(cfg.Height))
}

// imageCreateScaled derives a resized Image from an existing one. The
// sink scales the blit; only the declared dimensions change here.
func imageCreateScaled(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	src := args[0]
	if src.IsNull() {
		return Null, Throw(classNullPointer, "createImage")
	}
	w, h := args[1].Int(), args[2].Int()
	if w <= 0 || h <= 0 {
		return Null, Throw(classRuntime, "bad image size %dx%d", w, h)
	}
	nameVal, err := ctx.Field(src, "name")
	if err != nil {
		return Null, err
	}
	name, err := ctx.GoString(nameVal)
	if err != nil {
		return Null, err
	}
	return ctx.VM.newImage(name, w, h)
}

func (vm *VM) newImage(name string, w, h int32) (Value, error) {
	c, err := vm.registry.Resolve(lcduiImage)
	if err != nil {
		return Null, err
	}
	obj := vm.heap.Allocate(c)
	vm.heap.Pin(obj)
	defer vm.heap.Unpin(obj)
	s, err := vm.newString(name)
	if err != nil {
		return Null, err
	}
	ctx := &NativeCtx{VM: vm}
	ref := FromRef(obj)
	if err := ctx.SetField(ref, "name", FromRef(s)); err != nil {
		return Null, err
	}
	if err := ctx.SetField(ref, "width", FromInt(w)); err != nil {
		return Null, err
	}
	if err := ctx.SetField(ref, "height", FromInt(h)); err != nil {
		return Null, err
	}
	return ref, nil
}

func imageWidth(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return ctx.Field(recv, "width")
}

func imageHeight(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return ctx.Field(recv, "height")
}

// Stock font metrics: one bitmap face, fixed advance.
const (
	fontLineHeight  = 16
	fontCharAdvance = 8
)

func fontGetDefault(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	if vm.defaultFont == 0 {
		c, err := vm.registry.Resolve(lcduiFont)
		if err != nil {
			return Null, err
		}
		vm.defaultFont = vm.heap.Allocate(c)
		if f, ok := c.FieldByName("size"); ok {
			if err := vm.heap.SetField(vm.defaultFont, f.Slot, FromInt(fontLineHeight)); err != nil {
				return Null, err
			}
		}
	}
	return FromRef(vm.defaultFont), nil
}

func fontHeight(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(fontLineHeight), nil
}

func fontStringWidth(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}
	return FromInt(int32(len([]rune(s)) * fontCharAdvance)), nil
}
