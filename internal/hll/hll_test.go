package hll

import "testing"

func TestAddIncreasesEstimateMonotonically(t *testing.T) {
	s := New()
	prev := s.Estimate()
	for i := 0; i < 1000; i++ {
		s.Add([]byte{byte(i), byte(i >> 8)})
		got := s.Estimate()
		if got < prev {
			t.Fatalf("Estimate decreased after Add: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestEstimateWithinToleranceForKnownCardinality(t *testing.T) {
	s := New()
	const n = 10000
	for i := 0; i < n; i++ {
		s.Add([]byte{byte(i), byte(i >> 8), byte(i >> 16)})
	}
	got := s.Estimate()
	// Standard error at precision 14 is ~0.81%; allow generous slack.
	lo, hi := uint64(n*0.9), uint64(n*1.1)
	if got < lo || got > hi {
		t.Fatalf("Estimate(%d distinct) = %d, want in [%d,%d]", n, got, lo, hi)
	}
}

func TestAddingSameElementTwiceDoesNotDoubleCount(t *testing.T) {
	s := New()
	s.Add([]byte("x"))
	first := s.Estimate()
	s.Add([]byte("x"))
	second := s.Estimate()
	if first != second {
		t.Fatalf("Estimate changed on duplicate Add: %d -> %d", first, second)
	}
}

func TestMergeIsUnion(t *testing.T) {
	a := New()
	b := New()
	for i := 0; i < 500; i++ {
		a.Add([]byte{byte(i), byte(i >> 8), 'a'})
	}
	for i := 0; i < 500; i++ {
		b.Add([]byte{byte(i), byte(i >> 8), 'b'})
	}
	a.Merge(b)
	got := a.Estimate()
	lo, hi := uint64(1000*0.85), uint64(1000*1.15)
	if got < lo || got > hi {
		t.Fatalf("merged Estimate = %d, want roughly 1000 (in [%d,%d])", got, lo, hi)
	}
}

func TestMergeWithOverlapDoesNotDoubleCount(t *testing.T) {
	a := New()
	b := New()
	for i := 0; i < 200; i++ {
		a.Add([]byte{byte(i)})
		b.Add([]byte{byte(i)})
	}
	a.Merge(b)
	got := a.Estimate()
	lo, hi := uint64(200*0.7), uint64(200*1.3)
	if got < lo || got > hi {
		t.Fatalf("merged Estimate of identical sets = %d, want roughly 200 (in [%d,%d])", got, lo, hi)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		s.Add([]byte{byte(i)})
	}
	raw := s.Bytes()

	got, err := FromBytes(raw)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got.Estimate() != s.Estimate() {
		t.Fatalf("round-tripped Estimate = %d, want %d", got.Estimate(), s.Estimate())
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes([]byte{1, 2, 3}); err != ErrBadSketch {
		t.Fatalf("FromBytes(short) = %v, want ErrBadSketch", err)
	}
}

func TestFromBytesRejectsBadMagic(t *testing.T) {
	raw := New().Bytes()
	raw[0] ^= 0xff
	if _, err := FromBytes(raw); err != ErrBadSketch {
		t.Fatalf("FromBytes(bad magic) = %v, want ErrBadSketch", err)
	}
}

func TestEmptySketchEstimatesZero(t *testing.T) {
	s := New()
	if got := s.Estimate(); got != 0 {
		t.Fatalf("Estimate on empty sketch = %d, want 0", got)
	}
}
