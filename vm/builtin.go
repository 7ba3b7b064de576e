package vm

import "github.com/sonagi-emu/sonagi/archive"

// Built-in platform classes. These are ordinary class records with
// native-flagged methods, linked through the same registry as archive
// classes so applications can extend them and catch their throwables.

func nat(name, desc string) archive.MethodDef {
	return archive.MethodDef{Name: name, Desc: desc, Flags: archive.FlagNative}
}

func snat(name, desc string) archive.MethodDef {
	return archive.MethodDef{Name: name, Desc: desc, Flags: archive.FlagNative | archive.FlagStatic}
}

func field(name, desc string) archive.FieldDef {
	return archive.FieldDef{Name: name, Desc: desc}
}

func proto(name, super string, fields []archive.FieldDef, methods []archive.MethodDef) *archive.ClassRecord {
	return &archive.ClassRecord{Name: name, SuperName: super, Fields: fields, Methods: methods}
}

// throwableProto declares a throwable subclass with no members of its
// own; constructors and getMessage are inherited from Throwable.
func throwableProto(name, super string) *archive.ClassRecord {
	return proto(name, super, nil, nil)
}

func builtinRecords() []*archive.ClassRecord {
	return []*archive.ClassRecord{
		proto(classObject, "", nil, []archive.MethodDef{
			nat("<init>", "()V"),
			nat("hashCode", "()I"),
			nat("equals", "(Ljava/lang/Object;)Z"),
			nat("toString", "()Ljava/lang/String;"),
		}),

		proto(classString, classObject,
			[]archive.FieldDef{field("value", "[C")},
			[]archive.MethodDef{
				nat("length", "()I"),
				nat("charAt", "(I)C"),
				nat("equals", "(Ljava/lang/Object;)Z"),
				nat("concat", "(Ljava/lang/String;)Ljava/lang/String;"),
				nat("getBytes", "()[B"),
				nat("toString", "()Ljava/lang/String;"),
				snat("valueOf", "(I)Ljava/lang/String;"),
			}),

		proto("java/lang/StringBuffer", classObject,
			[]archive.FieldDef{field("str", "Ljava/lang/String;")},
			[]archive.MethodDef{
				nat("<init>", "()V"),
				nat("append", "(Ljava/lang/String;)Ljava/lang/StringBuffer;"),
				nat("append", "(I)Ljava/lang/StringBuffer;"),
				nat("toString", "()Ljava/lang/String;"),
			}),

		proto(classThrowable, classObject,
			[]archive.FieldDef{field("message", "Ljava/lang/String;")},
			[]archive.MethodDef{
				nat("<init>", "()V"),
				nat("<init>", "(Ljava/lang/String;)V"),
				nat("getMessage", "()Ljava/lang/String;"),
				nat("printStackTrace", "()V"),
			}),
		throwableProto(classException, classThrowable),
		throwableProto(classRuntime, classException),
		throwableProto(classError, classThrowable),
		throwableProto(classArithmetic, classRuntime),
		throwableProto(classNullPointer, classRuntime),
		throwableProto(classArrayBounds, classRuntime),
		throwableProto(classNegativeArray, classRuntime),
		throwableProto(classNoClassDef, classError),
		throwableProto(classInterrupted, classException),
		throwableProto(classNativeError, classError),

		proto("java/lang/System", classObject, nil, []archive.MethodDef{
			snat("currentTimeMillis", "()I"),
			snat("arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V"),
			snat("exit", "(I)V"),
		}),

		proto("java/lang/Math", classObject, nil, []archive.MethodDef{
			snat("abs", "(I)I"),
			snat("max", "(II)I"),
			snat("min", "(II)I"),
		}),

		proto("java/lang/Thread", classObject, nil, []archive.MethodDef{
			nat("<init>", "()V"),
			nat("run", "()V"),
			nat("start", "()V"),
			snat("sleep", "(I)V"),
			snat("yield", "()V"),
			snat("currentThread", "()Ljava/lang/Thread;"),
		}),

		proto("java/lang/Runtime", classObject, nil, []archive.MethodDef{
			snat("getRuntime", "()Ljava/lang/Runtime;"),
			nat("freeMemory", "()I"),
			nat("gc", "()V"),
		}),

		proto("java/util/Vector", classObject,
			[]archive.FieldDef{
				field("elements", "[Ljava/lang/Object;"),
				field("count", "I"),
			},
			[]archive.MethodDef{
				nat("<init>", "()V"),
				nat("addElement", "(Ljava/lang/Object;)V"),
				nat("elementAt", "(I)Ljava/lang/Object;"),
				nat("size", "()I"),
				nat("isEmpty", "()Z"),
				nat("removeElementAt", "(I)V"),
				nat("removeAllElements", "()V"),
			}),

		proto("org/kwis/msp/lcdui/Jlet", classObject, nil, []archive.MethodDef{
			nat("<init>", "()V"),
			nat("startApp", "([Ljava/lang/String;)V"),
			nat("pauseApp", "()V"),
			nat("destroyApp", "(Z)V"),
			nat("notifyDestroyed", "()V"),
			snat("getActiveJlet", "()Lorg/kwis/msp/lcdui/Jlet;"),
		}),

		proto("org/kwis/msp/lcdui/Display", classObject, nil, []archive.MethodDef{
			snat("getDefaultDisplay", "()Lorg/kwis/msp/lcdui/Display;"),
			nat("pushCard", "(Lorg/kwis/msp/lcdui/Card;)V"),
			nat("removeAllCards", "()V"),
			nat("getWidth", "()I"),
			nat("getHeight", "()I"),
		}),

		proto("org/kwis/msp/lcdui/Card", classObject, nil, []archive.MethodDef{
			nat("<init>", "()V"),
			nat("paint", "(Lorg/kwis/msp/lcdui/Graphics;)V"),
			nat("keyNotify", "(II)Z"),
			nat("penNotify", "(III)Z"),
			nat("repaint", "()V"),
			nat("serviceRepaints", "()V"),
			nat("getWidth", "()I"),
			nat("getHeight", "()I"),
		}),

		proto("org/kwis/msp/lcdui/Graphics", classObject,
			[]archive.FieldDef{
				field("color", "I"),
				field("clipX", "I"),
				field("clipY", "I"),
				field("clipW", "I"),
				field("clipH", "I"),
			},
			[]archive.MethodDef{
				nat("setColor", "(I)V"),
				nat("getColor", "()I"),
				nat("fillRect", "(IIII)V"),
				nat("drawRect", "(IIII)V"),
				nat("drawLine", "(IIII)V"),
				nat("drawString", "(Ljava/lang/String;III)V"),
				nat("drawImage", "(Lorg/kwis/msp/lcdui/Image;III)V"),
				nat("setClip", "(IIII)V"),
			}),

		proto("org/kwis/msp/lcdui/Image", classObject,
			[]archive.FieldDef{
				field("name", "Ljava/lang/String;"),
				field("width", "I"),
				field("height", "I"),
			},
			[]archive.MethodDef{
				snat("createImage", "(Ljava/lang/String;)Lorg/kwis/msp/lcdui/Image;"),
				snat("createImage", "(Lorg/kwis/msp/lcdui/Image;II)Lorg/kwis/msp/lcdui/Image;"),
				nat("getWidth", "()I"),
				nat("getHeight", "()I"),
			}),

		proto("org/kwis/msp/lcdui/Font", classObject,
			[]archive.FieldDef{field("size", "I")},
			[]archive.MethodDef{
				snat("getDefaultFont", "()Lorg/kwis/msp/lcdui/Font;"),
				nat("getHeight", "()I"),
				nat("stringWidth", "(Ljava/lang/String;)I"),
			}),

		throwableProto("org/kwis/msp/db/DataBaseException", classException),

		proto("org/kwis/msp/db/DataBase", classObject,
			[]archive.FieldDef{field("name", "Ljava/lang/String;")},
			[]archive.MethodDef{
				snat("openDataBase", "(Ljava/lang/String;)Lorg/kwis/msp/db/DataBase;"),
				nat("closeDataBase", "()V"),
				nat("insertRecord", "([B)I"),
				nat("selectRecord", "(I)[B"),
				nat("updateRecord", "(I[B)V"),
				nat("deleteRecord", "(I)V"),
				nat("getNumberOfRecords", "()I"),
			}),

		proto("org/kwis/msp/handset/HandsetProperty", classObject, nil, []archive.MethodDef{
			snat("getSystemProperty", "(Ljava/lang/String;)Ljava/lang/String;"),
		}),

		proto("org/kwis/msp/handset/BackLight", classObject, nil, []archive.MethodDef{
			snat("on", "()V"),
			snat("off", "()V"),
		}),

		proto("org/kwis/msp/io/EventQueue", classObject, nil, []archive.MethodDef{
			snat("getEvent", "([I)Z"),
		}),
	}
}
