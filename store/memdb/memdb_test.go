package memdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/larry0x/mttree/store"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	db := New()

	if err := db.Put(ctx, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	got, err := db.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Fatalf("got %q want %q", got, "1")
	}

	if err := db.Delete(ctx, []byte("a")); err != nil {
		t.Fatal(err)
	}
	got, err = db.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %q", got)
	}
}

func TestBatchAtomicWrite(t *testing.T) {
	ctx := context.Background()
	db := New()

	b := db.NewBatch()
	_ = b.Put(ctx, []byte("x"), []byte("1"))
	_ = b.Put(ctx, []byte("y"), []byte("2"))

	if v, _ := db.Get(ctx, []byte("x")); v != nil {
		t.Fatal("batch write leaked before Write()")
	}
	if err := b.Write(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Get(ctx, []byte("x")); !bytes.Equal(v, []byte("1")) {
		t.Fatalf("missing x after batch write")
	}
	if v, _ := db.Get(ctx, []byte("y")); !bytes.Equal(v, []byte("2")) {
		t.Fatalf("missing y after batch write")
	}
}

func TestRangeAscDesc(t *testing.T) {
	ctx := context.Background()
	db := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		_ = db.Put(ctx, []byte(k), []byte(k))
	}

	it, err := db.Range(ctx, nil, nil, store.Asc)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a", "b", "c", "d"}
	if !equalStrings(got, want) {
		t.Fatalf("asc: got %v want %v", got, want)
	}

	it, err = db.Range(ctx, nil, nil, store.Desc)
	if err != nil {
		t.Fatal(err)
	}
	got = nil
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want = []string{"d", "c", "b", "a"}
	if !equalStrings(got, want) {
		t.Fatalf("desc: got %v want %v", got, want)
	}
}

func TestRangeBounds(t *testing.T) {
	ctx := context.Background()
	db := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		_ = db.Put(ctx, []byte(k), []byte(k))
	}

	it, err := db.Range(ctx, []byte("a"), []byte("d"), store.Asc)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"b", "c"}
	if !equalStrings(got, want) {
		t.Fatalf("bounded range: got %v want %v", got, want)
	}
}

func TestPrefixRange(t *testing.T) {
	ctx := context.Background()
	db := New()
	_ = db.Put(ctx, []byte("na"), []byte("1"))
	_ = db.Put(ctx, []byte("nb"), []byte("2"))
	_ = db.Put(ctx, []byte("ob"), []byte("3"))

	it, err := db.PrefixRange(ctx, []byte("n"), nil, nil, store.Asc)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"na", "nb"}
	if !equalStrings(got, want) {
		t.Fatalf("prefix range: got %v want %v", got, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
