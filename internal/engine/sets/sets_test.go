package sets

import (
	"sort"
	"testing"

	"github.com/justforfun1323/blackwidow/internal/kv"
	"github.com/justforfun1323/blackwidow/internal/lockmgr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := kv.Open(t.TempDir(), "sets", true, kv.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, lockmgr.NewManager(16), 1024)
}

func sortedStrings(s []string) []string {
	out := append([]string{}, s...)
	sort.Strings(out)
	return out
}

func TestSAddDedupesAndSCard(t *testing.T) {
	e := newTestEngine(t)
	n, err := e.SAdd("k", "a", "b", "c")
	if err != nil || n != 3 {
		t.Fatalf("SAdd = %d, %v, want 3, nil", n, err)
	}
	n, err = e.SAdd("k", "b", "d")
	if err != nil || n != 1 {
		t.Fatalf("SAdd = %d, %v, want 1, nil", n, err)
	}
	card, err := e.SCard("k")
	if err != nil || card != 4 {
		t.Fatalf("SCard = %d, %v, want 4, nil", card, err)
	}
	members, err := e.SMembers("k")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	got := sortedStrings(members)
	want := []string{"a", "b", "c", "d"}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("SMembers = %v, want %v", got, want)
		}
	}
}

func TestSIsMember(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a")
	ok, err := e.SIsMember("k", "a")
	if err != nil || !ok {
		t.Fatalf("SIsMember(a) = %v, %v, want true, nil", ok, err)
	}
	ok, err = e.SIsMember("k", "z")
	if err != nil || ok {
		t.Fatalf("SIsMember(z) = %v, %v, want false, nil", ok, err)
	}
}

func TestSMoveTwoKeyLock(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("src", "a", "b")
	_, _ = e.SAdd("dst", "c")

	ok, err := e.SMove("src", "dst", "a")
	if err != nil || !ok {
		t.Fatalf("SMove = %v, %v, want true, nil", ok, err)
	}
	if ok, _ := e.SIsMember("src", "a"); ok {
		t.Fatalf("expected member removed from src")
	}
	if ok, _ := e.SIsMember("dst", "a"); !ok {
		t.Fatalf("expected member added to dst")
	}

	ok, err = e.SMove("src", "dst", "missing")
	if err != nil || ok {
		t.Fatalf("SMove of absent member = %v, %v, want false, nil", ok, err)
	}
}

func TestSMoveSameKeyIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a", "b")

	ok, err := e.SMove("k", "k", "a")
	if err != nil || !ok {
		t.Fatalf("SMove(k, k, a) = %v, %v, want true, nil", ok, err)
	}
	if ok, _ := e.SIsMember("k", "a"); !ok {
		t.Fatalf("SMove to the same key must not remove the member")
	}
	n, err := e.SCard("k")
	if err != nil || n != 2 {
		t.Fatalf("SCard(k) after self-move = %d, %v, want 2, nil", n, err)
	}
}

func TestSetAlgebra(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("a", "1", "2", "3")
	_, _ = e.SAdd("b", "2", "3", "4")

	diff, err := e.SDiff("a", "b")
	if err != nil || sortedStrings(diff)[0] != "1" || len(diff) != 1 {
		t.Fatalf("SDiff = %v, %v, want [1]", diff, err)
	}

	inter, err := e.SInter("a", "b")
	if err != nil {
		t.Fatalf("SInter: %v", err)
	}
	got := sortedStrings(inter)
	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Fatalf("SInter = %v, want [2 3]", got)
	}

	union, err := e.SUnion("a", "b")
	if err != nil || len(union) != 4 {
		t.Fatalf("SUnion = %v, %v, want 4 members", union, err)
	}
}

func TestSInterStoreOverwritesDestination(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("a", "1", "2")
	_, _ = e.SAdd("b", "2", "3")
	_, _ = e.SAdd("dest", "stale")

	n, err := e.SInterStore("dest", "a", "b")
	if err != nil || n != 1 {
		t.Fatalf("SInterStore = %d, %v, want 1, nil", n, err)
	}
	members, err := e.SMembers("dest")
	if err != nil || len(members) != 1 || members[0] != "2" {
		t.Fatalf("SMembers(dest) = %v, %v, want [2]", members, err)
	}
}

func TestSRemReturnsActualCount(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a", "b")
	n, err := e.SRem("k", "a", "missing")
	if err != nil || n != 1 {
		t.Fatalf("SRem = %d, %v, want 1, nil", n, err)
	}
}

func TestSPopRemovesAMember(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a", "b", "c")
	member, found, _, err := e.SPop("k")
	if err != nil || !found {
		t.Fatalf("SPop = %q, %v, %v, want found", member, found, err)
	}
	if ok, _ := e.SIsMember("k", member); ok {
		t.Fatalf("expected popped member removed from set")
	}
	card, _ := e.SCard("k")
	if card != 2 {
		t.Fatalf("SCard after SPop = %d, want 2", card)
	}
}

func TestSRandMemberPositiveAndNegativeCount(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a", "b", "c")

	pos, err := e.SRandMember("k", 2)
	if err != nil || len(pos) != 2 {
		t.Fatalf("SRandMember(2) = %v, %v, want 2 distinct members", pos, err)
	}
	seen := map[string]bool{}
	for _, m := range pos {
		if seen[m] {
			t.Fatalf("SRandMember(2) returned a duplicate: %v", pos)
		}
		seen[m] = true
	}

	pos, err = e.SRandMember("k", 10)
	if err != nil || len(pos) != 3 {
		t.Fatalf("SRandMember(10) = %v, %v, want 3 (capped at set size)", pos, err)
	}

	neg, err := e.SRandMember("k", -5)
	if err != nil || len(neg) != 5 {
		t.Fatalf("SRandMember(-5) = %v, %v, want 5 (with repetition)", neg, err)
	}
}

func TestSScanPaginatesWithoutSkippingBoundary(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "alpha", "beta", "gamma")

	seen := map[string]bool{}
	cursor := ""
	for i := 0; i < 10; i++ {
		members, next, err := e.SScan("k", cursor, "*", 1)
		if err != nil {
			t.Fatalf("SScan: %v", err)
		}
		for _, m := range members {
			seen[m] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 3 {
		t.Fatalf("SScan collected %v, want 3 members", seen)
	}
}

func TestSAddOnExistingMemberReturnsZero(t *testing.T) {
	e := newTestEngine(t)
	_, _ = e.SAdd("k", "a")
	n, err := e.SAdd("k", "a")
	if err != nil || n != 0 {
		t.Fatalf("SAdd duplicate = %d, %v, want 0, nil", n, err)
	}
}
