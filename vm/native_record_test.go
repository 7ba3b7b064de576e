package vm

import (
	"bytes"
	"testing"
)

func openTestDB(t *testing.T, ctx *NativeCtx, name string) Value {
	t.Helper()
	db, err := dbOpen(ctx, Null, []Value{mustString(t, ctx, name)})
	if err != nil {
		t.Fatalf("openDataBase(%q): %v", name, err)
	}
	return db
}

func recordBytes(t *testing.T, ctx *NativeCtx, v Value) []byte {
	t.Helper()
	b, err := ctx.Bytes(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestOpenRejectsBadNames(t *testing.T) {
	ctx := helperCtx(t)

	for _, name := range []string{"", "a/b"} {
		_, err := dbOpen(ctx, Null, []Value{mustString(t, ctx, name)})
		if thrown := asThrown(t, err); thrown.Class != dbException {
			t.Errorf("open(%q) threw %s", name, thrown.Class)
		}
	}
}

func TestRecordLifecycle(t *testing.T) {
	ctx := helperCtx(t)
	db := openTestDB(t, ctx, "scores")

	first, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("alice"))})
	if err != nil {
		t.Fatal(err)
	}
	second, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("bob"))})
	if err != nil {
		t.Fatal(err)
	}
	if first.Int() != 1 || second.Int() != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", first.Int(), second.Int())
	}

	n, err := dbCount(ctx, db, nil)
	if err != nil || n.Int() != 2 {
		t.Errorf("count = %v, %v", n, err)
	}

	v, err := dbSelect(ctx, db, []Value{FromInt(1)})
	if err != nil {
		t.Fatal(err)
	}
	if got := recordBytes(t, ctx, v); !bytes.Equal(got, []byte("alice")) {
		t.Errorf("record 1 = %q", got)
	}

	if _, err := dbUpdate(ctx, db, []Value{FromInt(2), mustBytes(t, ctx, []byte("carol"))}); err != nil {
		t.Fatal(err)
	}
	v, err = dbSelect(ctx, db, []Value{FromInt(2)})
	if err != nil {
		t.Fatal(err)
	}
	if got := recordBytes(t, ctx, v); !bytes.Equal(got, []byte("carol")) {
		t.Errorf("record 2 after update = %q", got)
	}

	if _, err := dbDelete(ctx, db, []Value{FromInt(1)}); err != nil {
		t.Fatal(err)
	}
	_, err = dbSelect(ctx, db, []Value{FromInt(1)})
	if thrown := asThrown(t, err); thrown.Class != dbException {
		t.Errorf("select of deleted record threw %s", thrown.Class)
	}
	n, _ = dbCount(ctx, db, nil)
	if n.Int() != 1 {
		t.Errorf("count after delete = %d", n.Int())
	}
}

func TestRecordIDsDoNotReuseHoles(t *testing.T) {
	// The next id is max+1, so deleting the high record frees its id but
	// deleting a low one does not shift anything.
	ctx := helperCtx(t)
	db := openTestDB(t, ctx, "scores")

	for _, s := range []string{"a", "b", "c"} {
		if _, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte(s))}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := dbDelete(ctx, db, []Value{FromInt(2)}); err != nil {
		t.Fatal(err)
	}
	id, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("d"))})
	if err != nil {
		t.Fatal(err)
	}
	if id.Int() != 4 {
		t.Errorf("insert after hole = id %d, want 4", id.Int())
	}
}

func TestRecordNamesScopedByApp(t *testing.T) {
	ctx := helperCtx(t)
	db := openTestDB(t, ctx, "scores")

	if _, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("x"))}); err != nil {
		t.Fatal(err)
	}
	names, err := ctx.VM.records.List("TestApp/scores/")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "TestApp/scores/00000001" {
		t.Errorf("store names = %v", names)
	}
}

func TestSeparateDatabasesAreIsolated(t *testing.T) {
	ctx := helperCtx(t)
	scores := openTestDB(t, ctx, "scores")
	saves := openTestDB(t, ctx, "saves")

	if _, err := dbInsert(ctx, scores, []Value{mustBytes(t, ctx, []byte("x"))}); err != nil {
		t.Fatal(err)
	}
	n, err := dbCount(ctx, saves, nil)
	if err != nil || n.Int() != 0 {
		t.Errorf("other database count = %v, %v", n, err)
	}
}

func TestClosedDatabaseRejectsUse(t *testing.T) {
	ctx := helperCtx(t)
	db := openTestDB(t, ctx, "scores")

	if _, err := dbClose(ctx, db, nil); err != nil {
		t.Fatal(err)
	}
	_, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("x"))})
	if thrown := asThrown(t, err); thrown.Class != dbException {
		t.Errorf("use after close threw %s", thrown.Class)
	}
	_, err = dbClose(ctx, db, nil)
	if thrown := asThrown(t, err); thrown.Class != dbException {
		t.Errorf("double close threw %s", thrown.Class)
	}
}

func mustBytes(t *testing.T, ctx *NativeCtx, data []byte) Value {
	t.Helper()
	v, err := ctx.NewBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestOpenSurvivesEagerCollection(t *testing.T) {
	ctx := helperCtx(t)
	ctx.VM.heap.gcThreshold = 1

	db := openTestDB(t, ctx, "scores")
	if _, err := dbInsert(ctx, db, []Value{mustBytes(t, ctx, []byte("alice"))}); err != nil {
		t.Fatalf("insert after open: %v", err)
	}

	name, err := ctx.Field(db, "name")
	if err != nil {
		t.Fatal(err)
	}
	s, err := ctx.GoString(name)
	if err != nil || s != "scores" {
		t.Errorf("name = %q, %v", s, err)
	}
}
