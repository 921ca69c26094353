package hashes

import (
	"sort"
	"testing"

	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := kv.Open(t.TempDir(), "hashes", true, kv.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, lockmgr.NewManager(16))
}

func TestHSetNewVsExisting(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.HSet("h", "f1", []byte("v1"))
	if err != nil || n != 1 {
		t.Fatalf("HSet new field = %d, %v, want 1, nil", n, err)
	}
	n, err = e.HSet("h", "f1", []byte("v2"))
	if err != nil || n != 0 {
		t.Fatalf("HSet existing field = %d, %v, want 0, nil", n, err)
	}
	v, ok, err := e.HGet("h", "f1")
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("HGet = %q, %v, %v, want v2, true, nil", v, ok, err)
	}
}

func TestHMGetMixedPresence(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.HSet("h", "f1", []byte("v1")); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if _, err := e.HSet("h", "f2", []byte("v2")); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	values, present, err := e.HMGet("h", []string{"f1", "f3", "f2"})
	if err != nil {
		t.Fatalf("HMGet: %v", err)
	}
	if !present[0] || string(values[0]) != "v1" {
		t.Fatalf("HMGet[0] = %q, %v", values[0], present[0])
	}
	if present[1] {
		t.Fatalf("HMGet[1] expected absent")
	}
	if !present[2] || string(values[2]) != "v2" {
		t.Fatalf("HMGet[2] = %q, %v", values[2], present[2])
	}
}

func TestHDelReturnsCountActuallyRemoved(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "f1", []byte("v1"))
	n, err := e.HDel("h", "f1", "f3")
	if err != nil || n != 1 {
		t.Fatalf("HDel = %d, %v, want 1, nil", n, err)
	}
}

func TestHSetNXOnlyWhenFieldAbsent(t *testing.T) {
	e := newTestEngine(t)
	ok, err := e.HSetNX("h", "f1", []byte("v1"))
	if err != nil || !ok {
		t.Fatalf("first HSetNX = %v, %v, want true, nil", ok, err)
	}
	ok, err = e.HSetNX("h", "f1", []byte("v2"))
	if err != nil || ok {
		t.Fatalf("second HSetNX = %v, %v, want false, nil", ok, err)
	}
}

func TestHLenHExistsHStrLen(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "f1", []byte("hello"))
	_, _ = e.HSet("h", "f2", []byte("v2"))

	n, err := e.HLen("h")
	if err != nil || n != 2 {
		t.Fatalf("HLen = %d, %v, want 2, nil", n, err)
	}
	ok, err := e.HExists("h", "f1")
	if err != nil || !ok {
		t.Fatalf("HExists = %v, %v, want true, nil", ok, err)
	}
	slen, err := e.HStrLen("h", "f1")
	if err != nil || slen != 5 {
		t.Fatalf("HStrLen = %d, %v, want 5, nil", slen, err)
	}
}

func TestHKeysHValsHGetAll(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "f1", []byte("v1"))
	_, _ = e.HSet("h", "f2", []byte("v2"))

	keys, err := e.HKeys("h")
	if err != nil {
		t.Fatalf("HKeys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "f1" || keys[1] != "f2" {
		t.Fatalf("HKeys = %v", keys)
	}

	all, err := e.HGetAll("h")
	if err != nil || len(all) != 2 || string(all["f1"]) != "v1" || string(all["f2"]) != "v2" {
		t.Fatalf("HGetAll = %v, %v", all, err)
	}
}

func TestHIncrByAndFloat(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.HIncrBy("h", "counter", 5)
	if err != nil || n != 5 {
		t.Fatalf("HIncrBy = %d, %v, want 5, nil", n, err)
	}
	n, err = e.HIncrBy("h", "counter", -2)
	if err != nil || n != 3 {
		t.Fatalf("HIncrBy = %d, %v, want 3, nil", n, err)
	}

	fv, err := e.HIncrByFloat("h", "fcounter", 1.5)
	if err != nil || fv != "1.5" {
		t.Fatalf("HIncrByFloat = %q, %v, want 1.5, nil", fv, err)
	}
}

func TestHScanXCursorAndPattern(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "alpha", []byte("1"))
	_, _ = e.HSet("h", "beta", []byte("2"))
	_, _ = e.HSet("h", "gamma", []byte("3"))

	seen := map[string]bool{}
	cursor := ""
	for i := 0; i < 10; i++ {
		fields, _, next, err := e.HScanX("h", cursor, "*", 1)
		if err != nil {
			t.Fatalf("HScanX: %v", err)
		}
		for _, f := range fields {
			seen[f] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 3 {
		t.Fatalf("HScanX collected %v, want 3 fields", seen)
	}
}

func TestHScanOpaqueCursorAndPattern(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "alpha", []byte("1"))
	_, _ = e.HSet("h", "beta", []byte("2"))
	_, _ = e.HSet("h", "gamma", []byte("3"))

	seen := map[string]bool{}
	var cursor int64
	for i := 0; i < 10; i++ {
		fields, _, next, err := e.HScan("h", cursor, "*", 1)
		if err != nil {
			t.Fatalf("HScan: %v", err)
		}
		for _, f := range fields {
			seen[f] = true
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if len(seen) != 3 {
		t.Fatalf("HScan collected %v, want 3 fields", seen)
	}
}

func TestHScanUnrecognizedCursorRestartsFromBeginning(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "only", []byte("1"))

	fields, _, next, err := e.HScan("h", 999999, "*", 10)
	if err != nil {
		t.Fatalf("HScan with bogus cursor: %v", err)
	}
	if next != 0 || len(fields) != 1 || fields[0] != "only" {
		t.Fatalf("HScan(bogus) = %v, %v, want [only], 0", fields, next)
	}
}

func TestHGetOnMissingHashIsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, ok, err := e.HGet("missing", "f")
	if err != nil || ok {
		t.Fatalf("HGet on missing hash = %v, %v, want false, nil", ok, err)
	}
}

func TestDelBumpsVersionAndHidesData(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.HSet("h", "f1", []byte("v1"))
	ok, err := e.Del("h")
	if err != nil || !ok {
		t.Fatalf("Del = %v, %v, want true, nil", ok, err)
	}
	if _, ok, _ := e.HGet("h", "f1"); ok {
		t.Fatalf("expected field gone after Del")
	}
	n, err := e.HLen("h")
	if err != nil || n != 0 {
		t.Fatalf("HLen after Del = %d, %v, want 0, nil", n, err)
	}
}
