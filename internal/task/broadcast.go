package task

import (
	"context"
	"sync"
)

// Broadcaster fans Change values out to every live subscriber. Slow
// subscribers drop notifications rather than block publishers; a dropped
// notification is harmless because any pending one already triggers a
// full resync.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{subs: map[int]chan Change{}, buffer: buffer}
}

// Subscribe registers a subscriber. The returned channel is closed once ctx
// is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *Broadcaster) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Merge combines several change sources. The merged channel closes once
// every source has closed.
func Merge(sources ...ChangeSource) ChangeSource {
	return mergedSource(sources)
}

type mergedSource []ChangeSource

func (m mergedSource) Changes(ctx context.Context) (<-chan Change, error) {
	chans := make([]<-chan Change, 0, len(m))
	for _, s := range m {
		ch, err := s.Changes(ctx)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}

	out := make(chan Change, len(chans))
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan Change) {
			defer wg.Done()
			for c := range ch {
				select {
				case out <- c:
				case <-ctx.Done():
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// FromChannel adapts an already open change channel to a ChangeSource, so a
// caller can subscribe synchronously and hand the watching to a goroutine.
// Changes ignores its context and may only be called once.
func FromChannel(ch <-chan Change) ChangeSource {
	return chanSource{ch: ch}
}

type chanSource struct {
	ch <-chan Change
}

func (s chanSource) Changes(context.Context) (<-chan Change, error) {
	return s.ch, nil
}
