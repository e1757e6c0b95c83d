package engine

import (
	"fmt"
	"runtime/debug"

	"github.com/compose-farm/compose-farm/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// SafeGroup wraps errgroup.Group with panic recovery.
// Siblings are never cancelled: one unit failing must not stop the others.
type SafeGroup struct {
	group  errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a new SafeGroup with panic recovery
func NewSafeGroup(log logger.Logger) *SafeGroup {
	if log == nil {
		log = logger.Discard()
	}
	return &SafeGroup{logger: log}
}

// Go runs the given function in a new goroutine with panic recovery.
// Any panic is converted to an error and logged with stack trace.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()
		return fn()
	})
}

// Wait blocks until all goroutines have completed and returns the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}

// forEach runs fn for every item concurrently and collects the outputs in input order
func forEach[T, R any](log logger.Logger, items []T, fn func(T) R) []R {
	out := make([]R, len(items))
	sg := NewSafeGroup(log)
	for i, item := range items {
		sg.Go(func() error {
			out[i] = fn(item)
			return nil
		})
	}
	_ = sg.Wait()
	return out
}
