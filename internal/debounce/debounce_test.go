package debounce

import (
	"sync"
	"testing"
	"time"
)

// recorder はコールバックの呼び出しを記録する。
type recorder struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) fn(v string) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncer_CoalescesToLastValue(t *testing.T) {
	rec := newRecorder()
	d := New(30*time.Millisecond, rec.fn)

	coalesced := 0
	d.OnCoalesce = func() { coalesced++ }

	for _, v := range []string{"0", "09", "090", "0901"} {
		d.Trigger(v)
	}

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("callback was not called")
	}
	// 追加の呼び出しがないことを確認する
	time.Sleep(60 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != "0901" {
		t.Errorf("calls = %v, want [0901]", calls)
	}
	if coalesced != 3 {
		t.Errorf("coalesced = %d, want 3", coalesced)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	rec := newRecorder()
	d := New(time.Hour, rec.fn)

	d.Trigger("a")
	d.Trigger("b")
	d.Flush()

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != "b" {
		t.Errorf("calls = %v, want [b]", calls)
	}
	if d.Pending() {
		t.Error("nothing should be pending after Flush")
	}

	// 保留値がない場合は何もしない
	d.Flush()
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("calls after empty Flush = %d, want 1", n)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	rec := newRecorder()
	d := New(20*time.Millisecond, rec.fn)

	d.Trigger("dropped")
	d.Stop()
	time.Sleep(60 * time.Millisecond)

	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("calls = %v, want none after Stop", calls)
	}
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	rec := newRecorder()
	d := New(20*time.Millisecond, rec.fn)

	d.Trigger("first")
	<-rec.done
	d.Trigger("second")
	<-rec.done

	calls := rec.snapshot()
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second]", calls)
	}
}

func TestDebouncer_Update_ConcurrentEditsAreNotLost(t *testing.T) {
	var mu sync.Mutex
	total := 0
	d := New(time.Millisecond, func(n int) {
		mu.Lock()
		total += n
		mu.Unlock()
	})

	const editors = 50
	var wg sync.WaitGroup
	for range editors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Update(func(cur int) int { return cur + 1 })
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()
	d.Flush()
	// 実行中のタイマーコールバックの完了を待つ
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if total != editors {
		t.Errorf("delivered %d edits, want %d", total, editors)
	}
}

func TestDebouncer_Update_StartsFromZeroAfterTake(t *testing.T) {
	rec := newRecorder()
	d := New(time.Hour, rec.fn)

	d.Update(func(cur string) string { return cur + "a" })
	d.Flush()
	d.Update(func(cur string) string { return cur + "b" })
	d.Flush()

	calls := rec.snapshot()
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}
}
