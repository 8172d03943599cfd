package authsession

import "sync"

// LiveRecord is a live handle on a persisted user record. The owning store
// keeps it fed with backend-side updates until StopObserving is called.
type LiveRecord struct {
	mu       sync.Mutex
	record   *UserRecord
	observer RecordObserver
	stop     func()
}

// NewLiveRecord wraps a record in a live handle. stop is invoked once when
// observation ends; stores use it to drop the handle from their notifier.
func NewLiveRecord(record *UserRecord, stop func()) *LiveRecord {
	return &LiveRecord{record: record, stop: stop}
}

// Subject returns the backend subject id the record belongs to.
func (r *LiveRecord) Subject() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return ""
	}
	return r.record.SubjectID
}

// Record returns a copy of the current record snapshot.
func (r *LiveRecord) Record() UserRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return UserRecord{}
	}
	return *r.record
}

// Fields returns the record flattened into provider-context keys.
func (r *LiveRecord) Fields() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.record == nil {
		return nil
	}
	return r.record.Fields()
}

// SetObserver registers the observer that receives update notifications.
// A nil observer silences the handle without stopping observation.
func (r *LiveRecord) SetObserver(o RecordObserver) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// StopObserving detaches the handle from its store. Further updates are
// dropped; calling it twice is a no-op.
func (r *LiveRecord) StopObserving() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.observer = nil
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// apply replaces the snapshot and notifies the observer, if any. Stores call
// this when the backend-side record changes.
func (r *LiveRecord) apply(record *UserRecord) {
	r.mu.Lock()
	if r.record != nil && record != nil {
		*r.record = *record
	} else {
		r.record = record
	}
	observer := r.observer
	r.mu.Unlock()

	if observer != nil {
		observer.RecordUpdated(r)
	}
}
