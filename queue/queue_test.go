// queue/queue_test.go
package queue

import (
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int](4)
	for i := 1; i <= 4; i++ {
		if !q.Send(i, 0) {
			t.Fatalf("Send(%d) failed on non-full queue", i)
		}
	}
	for i := 1; i <= 4; i++ {
		got, ok := q.Recv(0)
		if !ok || got != i {
			t.Fatalf("Recv = %d ok=%v, want %d", got, ok, i)
		}
	}
}

func TestBoundedSendFailsWhenFull(t *testing.T) {
	q := New[int](2)
	q.Send(1, 0)
	q.Send(2, 0)

	if q.Send(3, 0) {
		t.Error("non-blocking Send succeeded on a full queue")
	}
	start := time.Now()
	if q.Send(3, 20) {
		t.Error("Send with timeout succeeded on a full queue")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Send returned before the timeout elapsed")
	}
	// The dropped item must never surface.
	a, _ := q.Recv(0)
	b, _ := q.Recv(0)
	if _, ok := q.Recv(0); ok || a != 1 || b != 2 {
		t.Error("dropped item appeared in a later Recv")
	}
}

func TestRecvTimeout(t *testing.T) {
	q := New[int](2)
	if _, ok := q.Recv(0); ok {
		t.Error("non-blocking Recv on empty queue returned an item")
	}
	start := time.Now()
	if _, ok := q.Recv(20); ok {
		t.Error("Recv with timeout on empty queue returned an item")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Recv returned before the timeout elapsed")
	}
}

func TestSendUnblocksWaitingRecv(t *testing.T) {
	q := New[int](1)
	done := make(chan int)
	go func() {
		v, _ := q.Recv(500)
		done <- v
	}()
	time.Sleep(10 * time.Millisecond)
	q.Send(42, 0)

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Recv = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Recv never observed the Send")
	}
}

func TestPriorityInsertBeatsNormal(t *testing.T) {
	q := New[string](8)
	q.SendFront("A", 0)
	q.Send("B", 0)

	a, _ := q.Recv(0)
	b, _ := q.Recv(0)
	if a != "A" || b != "B" {
		t.Errorf("Recv order = %s, %s; want A, B", a, b)
	}
}

func TestPriorityInsertJumpsExistingItems(t *testing.T) {
	q := New[string](8)
	q.Send("C", 0)
	q.Send("D", 0)
	q.SendFront("A", 0)

	got := make([]string, 0, 3)
	for {
		v, ok := q.Recv(0)
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"A", "C", "D"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestPriorityInsertsPreserveTheirOrder(t *testing.T) {
	q := New[string](8)
	q.Send("X", 0)
	q.SendFront("A", 0)
	q.SendFront("B", 0)
	q.Send("Y", 0)

	got := make([]string, 0, 4)
	for {
		v, ok := q.Recv(0)
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []string{"A", "B", "X", "Y"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestDepthFreeSpaceUtilization(t *testing.T) {
	q := New[int](4)
	q.Send(1, 0)
	q.Send(2, 0)

	if q.Depth() != 2 || q.FreeSpace() != 2 {
		t.Errorf("Depth/FreeSpace = %d/%d, want 2/2", q.Depth(), q.FreeSpace())
	}
	if q.Full() || q.Empty() {
		t.Error("Full/Empty wrong at half fill")
	}
	if u := q.Utilization(); u != 0.5 {
		t.Errorf("Utilization = %f, want 0.5", u)
	}
}

func TestFlush(t *testing.T) {
	q := New[int](4)
	q.SendFront(1, 0)
	q.Send(2, 0)

	if n := q.Flush(); n != 2 {
		t.Errorf("Flush = %d, want 2", n)
	}
	if !q.Empty() {
		t.Error("queue not empty after Flush")
	}
	// Head-insert bookkeeping must reset too.
	q.Send(3, 0)
	q.SendFront(4, 0)
	if got, _ := q.Recv(0); got != 4 {
		t.Errorf("head insert after Flush = %d, want 4", got)
	}
}
