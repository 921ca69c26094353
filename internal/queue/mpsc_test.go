package queue

import (
	"sync"
	"testing"
	"time"
)

func TestPushRecvOrderSingleProducer(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 100; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("push %d failed", i)
		}
	}

	for i := 0; i < 100; i++ {
		select {
		case got := <-q.Recv():
			if *got != i {
				t.Fatalf("expected %d, got %d", i, *got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
}

func TestPushAfterCloseRejected(t *testing.T) {
	q := New[string]()
	q.Close()

	v := "late"
	if q.Push(&v) {
		t.Fatal("expected Push after Close to fail")
	}
}

func TestPushNilRejected(t *testing.T) {
	q := New[string]()
	defer q.Close()

	if q.Push(nil) {
		t.Fatal("expected Push(nil) to fail")
	}
}

func TestConcurrentProducersDeliverAll(t *testing.T) {
	q := New[int]()
	defer q.Close()

	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := i
				q.Push(&v)
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	total := producers * perProducer
	timeout := time.After(5 * time.Second)
	for received < total {
		select {
		case <-q.Recv():
			received++
		case <-timeout:
			t.Fatalf("only received %d/%d items", received, total)
		}
	}
	<-done
}

func TestLenApproximatesDepth(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}

	drained := 0
	for drained < 5 {
		<-q.Recv()
		drained++
	}

	if n := q.Len(); n != 0 {
		t.Fatalf("expected queue to drain to 0, got %d", n)
	}
}
