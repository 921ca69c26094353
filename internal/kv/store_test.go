package kv

import (
	"encoding/binary"
	"testing"

	"github.com/justforfun1323/blackwidow/internal/codec"
)

func openTestStore(t *testing.T, hasData bool) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test", hasData, DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func decodeHashMetaForTest(raw []byte, now int64) (count uint64, version uint64, stale bool) {
	m, err := codec.DecodeHashMeta(raw)
	if err != nil {
		return 0, 0, true
	}
	return uint64(m.Count), uint64(m.Version), m.Timestamp != 0 && int64(m.Timestamp) <= now
}

func TestPutGetDeleteMeta(t *testing.T) {
	s := openTestStore(t, false)

	if err := s.PutMeta("k", []byte("v")); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	got, found, err := s.GetMeta("k")
	if err != nil || !found || string(got) != "v" {
		t.Fatalf("GetMeta = %q, %v, %v, want v, true, nil", got, found, err)
	}

	if err := s.DeleteMeta("k"); err != nil {
		t.Fatalf("DeleteMeta: %v", err)
	}
	_, found, err = s.GetMeta("k")
	if err != nil || found {
		t.Fatalf("GetMeta after delete = %v, %v, want false, nil", found, err)
	}
}

func TestGetMetaMissingKeyIsNotAnError(t *testing.T) {
	s := openTestStore(t, false)
	_, found, err := s.GetMeta("nope")
	if err != nil || found {
		t.Fatalf("GetMeta(missing) = %v, %v, want false, nil", found, err)
	}
}

func TestBatchCommitsAtomically(t *testing.T) {
	s := openTestStore(t, true)

	b := s.NewBatch()
	b.PutMeta("k", []byte("meta"))
	b.PutData([]byte("k\x00data1"), []byte("v1"))
	b.PutData([]byte("k\x00data2"), []byte("v2"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	meta, found, err := s.GetMeta("k")
	if err != nil || !found || string(meta) != "meta" {
		t.Fatalf("GetMeta = %q, %v, %v, want meta, true, nil", meta, found, err)
	}
	v1, found, err := s.GetData([]byte("k\x00data1"))
	if err != nil || !found || string(v1) != "v1" {
		t.Fatalf("GetData(data1) = %q, %v, %v, want v1, true, nil", v1, found, err)
	}
}

func TestBatchDeleteDataRange(t *testing.T) {
	s := openTestStore(t, true)

	b := s.NewBatch()
	b.PutData([]byte("k\x00a"), []byte("1"))
	b.PutData([]byte("k\x00b"), []byte("2"))
	b.PutData([]byte("k\x00c"), []byte("3"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	b2 := s.NewBatch()
	b2.DeleteDataRange([]byte("k\x00a"), []byte("k\x00c"))
	if err := b2.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, found, _ := s.GetData([]byte("k\x00a")); found {
		t.Fatalf("expected k\\x00a removed by range delete")
	}
	if _, found, _ := s.GetData([]byte("k\x00b")); found {
		t.Fatalf("expected k\\x00b removed by range delete")
	}
	if _, found, _ := s.GetData([]byte("k\x00c")); !found {
		t.Fatalf("expected k\\x00c (end of range, exclusive) to survive")
	}
}

func TestGetDataOnStoreWithoutDataColumnFamilyErrors(t *testing.T) {
	s := openTestStore(t, false)
	if _, _, err := s.GetData([]byte("x")); err == nil {
		t.Fatalf("expected error reading data CF on a store opened without one")
	}
}

func TestSnapshotIsolatesFromLaterWrites(t *testing.T) {
	s := openTestStore(t, false)
	if err := s.PutMeta("k", []byte("v1")); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	snap := s.NewSnapshot()
	defer snap.Close()

	if err := s.PutMeta("k", []byte("v2")); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	got, found, err := s.GetMetaSnapshot(snap, "k")
	if err != nil || !found || string(got) != "v1" {
		t.Fatalf("GetMetaSnapshot = %q, %v, %v, want v1, true, nil (snapshot must not see later write)", got, found, err)
	}

	live, found, err := s.GetMeta("k")
	if err != nil || !found || string(live) != "v2" {
		t.Fatalf("GetMeta (live) = %q, %v, %v, want v2, true, nil", live, found, err)
	}
}

func TestMetaIteratorWalksInsertedKeysInOrder(t *testing.T) {
	s := openTestStore(t, false)
	for _, k := range []string{"b", "a", "c"} {
		if err := s.PutMeta(k, []byte(k)); err != nil {
			t.Fatalf("PutMeta(%s): %v", k, err)
		}
	}

	snap := s.NewSnapshot()
	defer snap.Close()
	iter := s.NewMetaIterator(snap)
	defer iter.Close()

	var got []string
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		got = append(got, string(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("iterated keys = %v, want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("iterated keys = %v, want %v", got, want)
		}
	}
}

func TestCompactRangeIsANoopErrorWise(t *testing.T) {
	s := openTestStore(t, false)
	_ = s.PutMeta("k", []byte("v"))
	if err := s.CompactRange(nil, nil); err != nil {
		t.Fatalf("CompactRange: %v", err)
	}
}

func TestInfoReportsNameAndDataColumnFamily(t *testing.T) {
	withData := openTestStore(t, true)
	info := withData.Info()
	if info.Name != "test" || !info.HasDataColumnFamily {
		t.Fatalf("Info() = %+v, want Name=test HasDataColumnFamily=true", info)
	}

	withoutData := openTestStore(t, false)
	if withoutData.Info().HasDataColumnFamily {
		t.Fatalf("Info() reports data CF for a store opened without one")
	}
}

// TestCompactionFilterDistinguishesMetaFromDataByKeyShape drives a real
// compaction through rockyardkv against a store with both a meta and a
// data column family, and checks the filter's actual behavior rather than
// its internal dispatch mechanism: a data record at the live meta version
// must survive even when its raw bytes would misread as an expired meta
// struct, a data record at a superseded version must be dropped, and a
// pure-tombstone meta record must eventually be dropped too.
func TestCompactionFilterDistinguishesMetaFromDataByKeyShape(t *testing.T) {
	factory := NewFilterFactory("hashes", decodeHashMetaForTest, 4)
	s, err := Open(t.TempDir(), "test", true, DefaultOptions(), factory)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	liveMeta := codec.HashMeta{Count: 1, Version: 2, Timestamp: 0}
	if err := s.PutMeta("h", liveMeta.Encode()); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}

	// A value that, misread as a HashMeta struct (count LE @0, version LE
	// @4, timestamp LE @8), decodes to a nonzero count and a timestamp in
	// 1970 — "expired" under the old ColumnFamilyID-keyed dispatch, which
	// ran the meta filter against every data record too.
	trapValue := make([]byte, 12)
	binary.LittleEndian.PutUint32(trapValue[0:], 1)
	binary.LittleEndian.PutUint32(trapValue[4:], 2)
	binary.LittleEndian.PutUint32(trapValue[8:], 1)

	liveKey := codec.HashDataKey("h", 2, "f1")
	staleKey := codec.HashDataKey("h", 1, "f1")

	b := s.NewBatch()
	b.PutData(liveKey, trapValue)
	b.PutData(staleKey, []byte("stale-version-value"))
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.CompactRange(nil, nil); err != nil {
		t.Fatalf("CompactRange: %v", err)
	}

	if _, found, err := s.GetData(liveKey); err != nil || !found {
		t.Fatalf("GetData(live version) = %v, %v, want found (must not be misread as expired meta)", found, err)
	}
	if _, found, err := s.GetData(staleKey); err != nil || found {
		t.Fatalf("GetData(superseded version) = %v, %v, want gone", found, err)
	}
}
