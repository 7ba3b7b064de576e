package vm

import "strconv"

// org/kwis/msp/handset natives: device properties and the backlight
// no-ops.

const (
	handsetProperty  = "org/kwis/msp/handset/HandsetProperty"
	handsetBackLight = "org/kwis/msp/handset/BackLight"
)

func registerHandsetNatives(b *Bridge) {
	b.Register(handsetProperty, "getSystemProperty", "(Ljava/lang/String;)Ljava/lang/String;", handsetGetProperty)
	b.Register(handsetBackLight, "on", "()V", backlightOn)
	b.Register(handsetBackLight, "off", "()V", backlightOff)
}

func handsetGetProperty(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	key, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}

	vm := ctx.VM
	var value string
	switch key {
	case "AppName":
		value = vm.pkg.AppName
	case "AppVersion":
		value = vm.pkg.Version
	case "ScreenWidth":
		value = strconv.Itoa(vm.screenW)
	case "ScreenHeight":
		value = strconv.Itoa(vm.screenH)
	case "Platform":
		value = "sonagi"
	default:
		return Null, nil
	}
	return ctx.NewString(value)
}

func backlightOn(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.log.Debug("backlight on")
	return Null, nil
}

func backlightOff(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.log.Debug("backlight off")
	return Null, nil
}
