// Package debounce は連続する入力をまとめ、静止期間の後に最後の値だけを処理する仕組みを提供する。
package debounce

import (
	"sync"
	"time"
)

// Debouncer は保留中の最新値とタイマーを保持する。
// Triggerのたびに保留値を置き換えてタイマーを再始動し、
// 静止期間が経過するとコールバックを最後の値で1回だけ呼ぶ。
type Debouncer[T any] struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func(T)
	timer   *time.Timer
	pending T
	has     bool
	// gen はタイマーの世代。Stop/Flush後に古いタイマーが発火しても無視するために使う。
	gen uint64

	// OnCoalesce は保留中の値が新しい値で置き換えられたときに呼ばれる（任意）。
	OnCoalesce func()
}

// New はDebouncerを生成する。fnは静止期間の経過後に別のgoroutineで呼ばれる。
func New[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Trigger は値を保留し、タイマーを再始動する。
func (d *Debouncer[T]) Trigger(v T) {
	d.Update(func(T) T { return v })
}

// Update は保留中の値（なければゼロ値）にfnを適用した結果を保留し、タイマーを再始動する。
// fnはロックを保持したまま呼ばれるため、取り出しとの間で更新が失われない。
func (d *Debouncer[T]) Update(fn func(cur T) T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.has && d.OnCoalesce != nil {
		d.OnCoalesce()
	}
	d.pending, d.has = fn(d.pending), true
	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush は保留中の値があれば即座にコールバックを呼ぶ。呼び出し元のgoroutineで実行される。
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	v, ok := d.takeLocked()
	d.mu.Unlock()
	if ok {
		d.fn(v)
	}
}

// Stop は保留中の値を破棄し、タイマーを止める。
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.takeLocked()
}

// Pending は保留中の値があるかを返す。
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.has
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	v, ok := d.takeLocked()
	d.mu.Unlock()
	if ok {
		d.fn(v)
	}
}

// takeLocked は保留値を取り出してタイマーを無効化する。d.muを保持して呼ぶこと。
func (d *Debouncer[T]) takeLocked() (T, bool) {
	var zero T
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if !d.has {
		return zero, false
	}
	v := d.pending
	d.pending, d.has = zero, false
	return v, true
}
