/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package loop implements the single-goroutine drain queue the Workload API
// client uses to serialize stream message handling into the server-emitted
// order, so watcher callbacks (and through them the source engine's
// updates) run one at a time.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handler processes one item drained from the loop.
type Handler[T any] interface {
	Handle(ctx context.Context, t T) error
}

// Interface is a serialized queue: items are Enqueue'd from any goroutine
// and Handle'd, in order, by the single goroutine running Run.
type Interface[T any] interface {
	Run(ctx context.Context) error
	Enqueue(t T)
	Close(t T)
}

type loop[T any] struct {
	factory *Factory[T]

	head *queueSegment[T]
	tail *queueSegment[T]

	handler Handler[T]

	closed atomic.Bool

	closeCh chan struct{}

	lock sync.RWMutex
}

func (l *loop[T]) Run(ctx context.Context) error {
	defer close(l.closeCh)

	current := l.head
	for current != nil {
		// Drain this segment in order. The channel will be closed either:
		//   - when we "roll over" to a new segment, or
		//   - when Close() is called for the final segment.
		for req := range current.ch {
			if err := l.handler.Handle(ctx, req); err != nil {
				return err
			}
		}

		next := current.next
		l.putSegment(current)
		current = next
	}

	return nil
}

func (l *loop[T]) Enqueue(req T) {
	l.lock.RLock()

	if l.closed.Load() {
		l.lock.RUnlock()
		return
	}

	select {
	case l.tail.ch <- req:
		l.lock.RUnlock()
		return
	default:
		l.lock.RUnlock()
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if l.closed.Load() {
		return
	}

	select {
	case l.tail.ch <- req:
	default:
		newSeg := l.getSegment()
		l.tail.next = newSeg
		close(l.tail.ch)
		l.tail = newSeg
		l.tail.ch <- req
	}
}

func (l *loop[T]) Close(req T) {
	l.lock.Lock()
	if l.closed.Load() {
		l.lock.Unlock()
		<-l.closeCh
		return
	}
	l.closed.Store(true)

	select {
	case l.tail.ch <- req:
	default:
		newSeg := l.getSegment()
		l.tail.next = newSeg
		close(l.tail.ch)
		l.tail = newSeg
		l.tail.ch <- req
	}

	close(l.tail.ch)
	l.lock.Unlock()

	<-l.closeCh
}
