package livetail

import "sync"

// broadcaster fans NOTIFY wakeups out to subscribers of a channel. Each
// subscriber gets a bounded wake channel; publish never blocks — a
// subscriber whose buffer is already full is slow, so its channel is
// closed and removed rather than stalling the single receive loop that
// serves every other subscriber (spec §4.9's back-pressure contract).
type broadcaster struct {
	mu         sync.Mutex
	subs       map[string]map[int64]chan struct{}
	nextID     int64
	bufferSize int
}

func newBroadcaster(bufferSize int) *broadcaster {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &broadcaster{subs: make(map[string]map[int64]chan struct{}), bufferSize: bufferSize}
}

// subscribe registers a new wake channel for channel and reports whether
// this is the first subscriber (the caller must LISTEN in that case).
func (b *broadcaster) subscribe(channel string) (id int64, wake chan struct{}, first bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id = b.nextID
	wake = make(chan struct{}, b.bufferSize)

	subs, exists := b.subs[channel]
	if !exists {
		subs = make(map[int64]chan struct{})
		b.subs[channel] = subs
		first = true
	}
	subs[id] = wake
	return id, wake, first
}

// unsubscribe removes a subscriber and reports whether it was the last
// one on channel (the caller should UNLISTEN in that case).
func (b *broadcaster) unsubscribe(channel string, id int64) (last bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, exists := b.subs[channel]
	if !exists {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, channel)
		return true
	}
	return false
}

// publish wakes every subscriber of channel. A subscriber whose buffer
// is full is dropped: its wake channel is closed so Tail observes the
// close and returns a back-pressure error to its caller.
func (b *broadcaster) publish(channel string) {
	b.mu.Lock()
	subs, exists := b.subs[channel]
	if !exists {
		b.mu.Unlock()
		return
	}
	var overflowed []int64
	for id, wake := range subs {
		select {
		case wake <- struct{}{}:
		default:
			overflowed = append(overflowed, id)
		}
	}
	for _, id := range overflowed {
		close(subs[id])
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
	b.mu.Unlock()
}
