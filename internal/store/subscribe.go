package store

import "sync"

// subscriber queues changes without bound so the writer never blocks on a
// slow reader and no change is dropped.
type subscriber struct {
	mu     sync.Mutex
	queue  []Change
	notify chan struct{}
	out    chan Change
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	sub := &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Change),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func (sub *subscriber) push(c Change) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, c)
	sub.mu.Unlock()
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) pump() {
	defer close(sub.out)
	for {
		select {
		case <-sub.notify:
		case <-sub.done:
			return
		}
		for {
			sub.mu.Lock()
			if len(sub.queue) == 0 {
				sub.mu.Unlock()
				break
			}
			next := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()

			select {
			case sub.out <- next:
			case <-sub.done:
				return
			}
		}
	}
}

func (sub *subscriber) close() {
	sub.once.Do(func() { close(sub.done) })
}

// Subscribe returns a channel receiving every committed change in revision
// order, and a function ending the subscription. The channel is closed when
// the subscription ends or the store closes.
func (s *Store) Subscribe() (<-chan Change, func()) {
	sub := newSubscriber()

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
		sub.close()
	}
	return sub.out, cancel
}

func (s *Store) publish(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.push(c)
	}
}
