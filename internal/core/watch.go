package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// RequestsObserver receives a facility's full request list, most recently posted first.
type RequestsObserver func([]Request)

type requestWatcher struct {
	facilityID string
	fn         RequestsObserver
	mu         sync.Mutex
	stopped    atomic.Bool
}

// deliver serializes callbacks for one watcher and drops them once stopped.
func (w *requestWatcher) deliver(requests []Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped.Load() {
		return
	}
	w.fn(requests)
}

// facilityFeed serializes refreshes for one facility so a snapshot read
// earlier is never delivered after one read later.
func (s *Service) facilityFeed(facilityID string) *sync.Mutex {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	mu, ok := s.feeds[facilityID]
	if !ok {
		mu = &sync.Mutex{}
		s.feeds[facilityID] = mu
	}
	return mu
}

// WatchFacilityRequests delivers the facility's current requests immediately
// and again after every committed change to one of them. The returned cancel
// function, or cancellation of ctx, stops further delivery. Observers must not
// mutate the same facility's requests from inside the callback.
func (s *Service) WatchFacilityRequests(ctx context.Context, facilityID string, fn RequestsObserver) (func(), error) {
	if fn == nil {
		return nil, errors.New("observer required")
	}
	w := &requestWatcher{facilityID: facilityID, fn: fn}

	s.watchMu.Lock()
	s.watchSeq++
	id := s.watchSeq
	s.watchers[id] = w
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.stopped.Store(true)
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, cancel)

	feed := s.facilityFeed(facilityID)
	feed.Lock()
	current, err := s.ListFacilityRequests(ctx, facilityID)
	if err == nil {
		w.deliver(current)
	}
	feed.Unlock()
	if err != nil {
		stop()
		cancel()
		return nil, err
	}
	return func() {
		stop()
		cancel()
	}, nil
}

func (s *Service) publish(ctx context.Context, facilityID string) {
	s.watchMu.Lock()
	targets := make([]*requestWatcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		if w.facilityID == facilityID {
			targets = append(targets, w)
		}
	}
	s.watchMu.Unlock()
	if len(targets) == 0 {
		return
	}
	feed := s.facilityFeed(facilityID)
	feed.Lock()
	defer feed.Unlock()
	current, err := s.ListFacilityRequests(context.WithoutCancel(ctx), facilityID)
	if err != nil {
		s.logger.Warn("watch refresh failed", "facility_id", facilityID, "error", err)
		return
	}
	for _, w := range targets {
		w.deliver(cloneRequests(current))
	}
}

func cloneRequests(in []Request) []Request {
	out := make([]Request, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
