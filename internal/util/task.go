package util

import (
	"errors"
	"time"

	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs one fallible function with an optional timeout
// and routes the result through onError/onSuccess continuations. Used for
// side work that must stay bounded and must never panic the caller: the
// best-effort hardware reset at shutdown, the mirror's offline publish.
type SafeBackgroundTask[T any] struct {
	fn        func() (*T, error)
	timeout   *time.Duration
	onError   func(error)
	onSuccess func(T)
}

func NewBackgroundTask[T any](fn func() (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		fn: fn,
	}
}

func NewBackgroundTaskErr(fn func() error) *SafeBackgroundTask[any] {
	return &SafeBackgroundTask[any]{
		fn: func() (*any, error) {
			var unit any = struct{}{}
			if err := fn(); err != nil {
				return nil, err
			}
			return &unit, nil
		},
	}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) OnError(fn func(error)) *SafeBackgroundTask[T] {
	t.onError = fn
	return t
}

func (t *SafeBackgroundTask[T]) OnSuccess(fn func(T)) *SafeBackgroundTask[T] {
	t.onSuccess = fn
	return t
}

// Run executes the task synchronously, honoring the timeout. At most one of
// the continuations fires.
func (t *SafeBackgroundTask[T]) Run() {
	bgFn := io.Eval(t.fn)
	bg := io.Map(bgFn, func(a *T) T {
		if a != nil {
			return *a
		}
		panic(errors.New("result is nil"))
	})
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	if result.Error != nil {
		if t.onError != nil {
			t.onError(result.Error)
		}
		return
	}
	if t.onSuccess != nil {
		t.onSuccess(result.Value)
	}
}
