package lists

import (
	"testing"

	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := kv.Open(t.TempDir(), "lists", true, kv.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, lockmgr.NewManager(16))
}

func asStrings(vs [][]byte) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func assertRange(t *testing.T, e *Engine, key string, want ...string) {
	t.Helper()
	values, err := e.LRange(key, 0, -1)
	if err != nil {
		t.Fatalf("LRange: %v", err)
	}
	got := asStrings(values)
	if len(got) != len(want) {
		t.Fatalf("LRange = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("LRange = %v, want %v", got, want)
		}
	}
}

// TestSpecScenario3 replays spec.md §8 scenario 3 verbatim:
// RPUSH L x y z; LPUSH L a; LRANGE; LINSERT L BEFORE y m; LRANGE.
func TestSpecScenario3(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.RPush("L", []byte("x"), []byte("y"), []byte("z"))
	if err != nil || n != 3 {
		t.Fatalf("RPush = %d, %v, want 3, nil", n, err)
	}
	n, err = e.LPush("L", []byte("a"))
	if err != nil || n != 4 {
		t.Fatalf("LPush = %d, %v, want 4, nil", n, err)
	}
	assertRange(t, e, "L", "a", "x", "y", "z")

	n, err = e.LInsert("L", true, []byte("y"), []byte("m"))
	if err != nil || n != 5 {
		t.Fatalf("LInsert = %d, %v, want 5, nil", n, err)
	}
	assertRange(t, e, "L", "a", "x", "m", "y", "z")
}

func TestLRangeOnEmptyListIsEmpty(t *testing.T) {
	e := newTestEngine(t)
	values, err := e.LRange("missing", 0, -1)
	if err != nil || len(values) != 0 {
		t.Fatalf("LRange on missing list = %v, %v, want empty", values, err)
	}
}

func TestLPopRPop(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"), []byte("c"))

	popped, err := e.LPop("L", 1)
	if err != nil || len(popped) != 1 || string(popped[0]) != "a" {
		t.Fatalf("LPop = %v, %v, want [a]", popped, err)
	}
	popped, err = e.RPop("L", 1)
	if err != nil || len(popped) != 1 || string(popped[0]) != "c" {
		t.Fatalf("RPop = %v, %v, want [c]", popped, err)
	}
	assertRange(t, e, "L", "b")
}

func TestLIndexAndLSet(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"), []byte("c"))

	v, ok, err := e.LIndex("L", 1)
	if err != nil || !ok || string(v) != "b" {
		t.Fatalf("LIndex(1) = %q, %v, %v, want b, true, nil", v, ok, err)
	}
	v, ok, err = e.LIndex("L", -1)
	if err != nil || !ok || string(v) != "c" {
		t.Fatalf("LIndex(-1) = %q, %v, %v, want c, true, nil", v, ok, err)
	}

	ok, err = e.LSet("L", 0, []byte("z"))
	if err != nil || !ok {
		t.Fatalf("LSet = %v, %v, want true, nil", ok, err)
	}
	assertRange(t, e, "L", "z", "b", "c")
}

func TestLTrim(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"), []byte("c"), []byte("d"))
	if err := e.LTrim("L", 1, 2); err != nil {
		t.Fatalf("LTrim: %v", err)
	}
	assertRange(t, e, "L", "b", "c")
}

func TestLRemDirections(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"), []byte("a"), []byte("c"), []byte("a"))

	n, err := e.LRem("L", 1, []byte("a"))
	if err != nil || n != 1 {
		t.Fatalf("LRem(1) = %d, %v, want 1, nil", n, err)
	}
	assertRange(t, e, "L", "b", "a", "c", "a")

	n, err = e.LRem("L", -1, []byte("a"))
	if err != nil || n != 1 {
		t.Fatalf("LRem(-1) = %d, %v, want 1, nil", n, err)
	}
	assertRange(t, e, "L", "b", "a", "c")

	n, err = e.LRem("L", 0, []byte("a"))
	if err != nil || n != 1 {
		t.Fatalf("LRem(0) = %d, %v, want 1, nil", n, err)
	}
	assertRange(t, e, "L", "b", "c")
}

func TestRPopLPushAtomicMove(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("src", []byte("a"), []byte("b"))
	_, _ = e.RPush("dst", []byte("x"))

	v, ok, err := e.RPopLPush("src", "dst")
	if err != nil || !ok || string(v) != "b" {
		t.Fatalf("RPopLPush = %q, %v, %v, want b, true, nil", v, ok, err)
	}
	assertRange(t, e, "src", "a")
	assertRange(t, e, "dst", "b", "x")
}

func TestRPopLPushSameKeyRotates(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"), []byte("c"))

	v, ok, err := e.RPopLPush("L", "L")
	if err != nil || !ok || string(v) != "c" {
		t.Fatalf("RPopLPush(L, L) = %q, %v, %v, want c, true, nil", v, ok, err)
	}
	assertRange(t, e, "L", "c", "a", "b")

	n, err := e.LLen("L")
	if err != nil || n != 3 {
		t.Fatalf("LLen after self-rotation = %d, %v, want 3, nil", n, err)
	}

	popped, err := e.RPop("L", 1)
	if err != nil || len(popped) != 1 || string(popped[0]) != "b" {
		t.Fatalf("RPop after self-rotation = %v, %v, want [b], nil", popped, err)
	}
}

func TestRPopLPushSameKeySingleElementIsNoop(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("only"))

	v, ok, err := e.RPopLPush("L", "L")
	if err != nil || !ok || string(v) != "only" {
		t.Fatalf("RPopLPush(L, L) = %q, %v, %v, want only, true, nil", v, ok, err)
	}
	assertRange(t, e, "L", "only")
}

func TestLPushXRPushXOnMissingKeyIsNoop(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.LPushX("missing", []byte("v"))
	if err != nil || n != 0 {
		t.Fatalf("LPushX on missing key = %d, %v, want 0, nil", n, err)
	}
	n, err = e.LLen("missing")
	if err != nil || n != 0 {
		t.Fatalf("LLen after no-op LPushX = %d, %v, want 0, nil", n, err)
	}
}

func TestLInsertPivotNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"), []byte("b"))
	n, err := e.LInsert("L", true, []byte("missing"), []byte("v"))
	if err != nil || n != -1 {
		t.Fatalf("LInsert with missing pivot = %d, %v, want -1, nil", n, err)
	}
}

func TestDelBumpsVersionAndHidesData(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.RPush("L", []byte("a"))
	ok, err := e.Del("L")
	if err != nil || !ok {
		t.Fatalf("Del = %v, %v, want true, nil", ok, err)
	}
	assertRange(t, e, "L")
}
