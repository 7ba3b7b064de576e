package vm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sonagi-emu/sonagi/host"
)

// org/kwis/msp/db natives: the record database API over the host
// RecordStore. Records live under "<appID>/<database>/<id>" names, ids
// are 1-based and formatted fixed-width so List order matches id order.

const (
	dbClass     = "org/kwis/msp/db/DataBase"
	dbException = "org/kwis/msp/db/DataBaseException"
)

func registerRecordNatives(b *Bridge) {
	b.Register(dbClass, "openDataBase", "(Ljava/lang/String;)Lorg/kwis/msp/db/DataBase;", dbOpen)
	b.Register(dbClass, "closeDataBase", "()V", dbClose)
	b.Register(dbClass, "insertRecord", "([B)I", dbInsert)
	b.Register(dbClass, "selectRecord", "(I)[B", dbSelect)
	b.Register(dbClass, "updateRecord", "(I[B)V", dbUpdate)
	b.Register(dbClass, "deleteRecord", "(I)V", dbDelete)
	b.Register(dbClass, "getNumberOfRecords", "()I", dbCount)
}

func recordName(prefix string, id int32) string {
	return fmt.Sprintf("%s%08d", prefix, id)
}

// dbPrefix returns the store name prefix of an open database receiver.
func dbPrefix(ctx *NativeCtx, recv Value) (string, error) {
	prefix, ok := ctx.VM.databases[recv.Ref()]
	if !ok {
		return "", Throw(dbException, "database is not open")
	}
	return prefix, nil
}

func dbOpen(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	name, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}
	if name == "" || strings.Contains(name, "/") {
		return Null, Throw(dbException, "bad database name %q", name)
	}

	c, err := vm.registry.Resolve(dbClass)
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
	if f, ok := c.FieldByName("name"); ok {
		if err := vm.heap.SetField(obj, f.Slot, FromRef(s)); err != nil {
			return Null, err
		}
	}
	vm.databases[obj] = vm.appID + "/" + name + "/"
	return FromRef(obj), nil
}

func dbClose(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	if _, err := dbPrefix(ctx, recv); err != nil {
		return Null, err
	}
	delete(ctx.VM.databases, recv.Ref())
	return Null, nil
}

func dbInsert(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	prefix, err := dbPrefix(ctx, recv)
	if err != nil {
		return Null, err
	}
	data, err := ctx.Bytes(args[0])
	if err != nil {
		return Null, err
	}

	names, err := ctx.VM.records.List(prefix)
	if err != nil {
		return Null, Throw(dbException, "listing records: %v", err)
	}
	next := int32(1)
	for _, n := range names {
		if id, ok := recordID(prefix, n); ok && id >= next {
			next = id + 1
		}
	}
	if err := ctx.VM.records.Put(recordName(prefix, next), data); err != nil {
		return Null, Throw(dbException, "writing record: %v", err)
	}
	return FromInt(next), nil
}

func dbSelect(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	prefix, err := dbPrefix(ctx, recv)
	if err != nil {
		return Null, err
	}
	id := args[0].Int()
	data, err := ctx.VM.records.Get(recordName(prefix, id))
	if errors.Is(err, host.ErrRecordNotFound) {
		return Null, Throw(dbException, "no record %d", id)
	}
	if err != nil {
		return Null, Throw(dbException, "reading record %d: %v", id, err)
	}
	return ctx.NewBytes(data)
}

func dbUpdate(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	prefix, err := dbPrefix(ctx, recv)
	if err != nil {
		return Null, err
	}
	id := args[0].Int()
	if _, err := ctx.VM.records.Get(recordName(prefix, id)); err != nil {
		return Null, Throw(dbException, "no record %d", id)
	}
	data, err := ctx.Bytes(args[1])
	if err != nil {
		return Null, err
	}
	if err := ctx.VM.records.Put(recordName(prefix, id), data); err != nil {
		return Null, Throw(dbException, "writing record %d: %v", id, err)
	}
	return Null, nil
}

func dbDelete(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	prefix, err := dbPrefix(ctx, recv)
	if err != nil {
		return Null, err
	}
	id := args[0].Int()
	err = ctx.VM.records.Delete(recordName(prefix, id))
	if errors.Is(err, host.ErrRecordNotFound) {
		return Null, Throw(dbException, "no record %d", id)
	}
	if err != nil {
		return Null, Throw(dbException, "deleting record %d: %v", id, err)
	}
	return Null, nil
}

func dbCount(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	prefix, err := dbPrefix(ctx, recv)
	if err != nil {
		return Null, err
	}
	names, err := ctx.VM.records.List(prefix)
	if err != nil {
		return Null, Throw(dbException, "listing records: %v", err)
	}
	return FromInt(int32(len(names))), nil
}

// recordID parses the trailing id of a record name under prefix.
func recordID(prefix, name string) (int32, bool) {
	rest := strings.TrimPrefix(name, prefix)
	id, err := strconv.ParseInt(rest, 10, 32)
	if err != nil || id <= 0 {
		return 0, false
	}
	return int32(id), true
}
