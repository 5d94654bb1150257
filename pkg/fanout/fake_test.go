package fanout

import (
	"context"
	"sync"
)

// fakeSource is an in-process Source for tests: each task's channel is fed
// by calling publish directly instead of going through Redis.
type fakeSource struct {
	mu   sync.Mutex
	subs map[string][]chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string][]chan string)}
}

func (f *fakeSource) Subscribe(ctx context.Context, taskID string) (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)
	f.mu.Lock()
	f.subs[taskID] = append(f.subs[taskID], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.subs[taskID]
		for i, c := range list {
			if c == ch {
				f.subs[taskID] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (f *fakeSource) publish(taskID, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[taskID] {
		ch <- line
	}
}
