package security

import "context"

// Recorder appends events to the trail. *Store implements it.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Observer receives the labels of every stored event. The auth metrics
// collectors implement it.
type Observer interface {
	ObserveLogin(role, outcome string)
	ObserveRefresh(role, outcome string)
	ObserveSecurityEvent(kind, severity string)
}

// Instrument wraps next so every stored event is also counted. Events
// that fail to store are not counted; the trail stays the source of
// truth.
func Instrument(next Recorder, obs Observer) Recorder {
	if obs == nil {
		return next
	}
	return &instrumentedRecorder{next: next, obs: obs}
}

type instrumentedRecorder struct {
	next Recorder
	obs  Observer
}

func (r *instrumentedRecorder) Record(ctx context.Context, event *Event) error {
	if err := r.next.Record(ctx, event); err != nil {
		return err
	}
	r.obs.ObserveSecurityEvent(string(event.Kind), event.Severity)
	switch event.Kind {
	case EventLoginSuccess:
		r.obs.ObserveLogin(string(event.Role), "success")
	case EventLoginFailed:
		r.obs.ObserveLogin(string(event.Role), "failure")
	case EventAccountLocked:
		r.obs.ObserveLogin(string(event.Role), "locked")
	case EventRateLimited:
		r.obs.ObserveLogin(string(event.Role), "throttled")
	case EventRefreshUsed:
		r.obs.ObserveRefresh(string(event.Role), "rotated")
	case EventRefreshReuse:
		r.obs.ObserveRefresh(string(event.Role), "replay_blocked")
	}
	return nil
}
