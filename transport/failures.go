package transport

import (
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FailureChannel collects asynchronous connection failures reported from
// client library callbacks. Reports never block: when the buffer is full
// the failure is dropped and Report returns false.
type FailureChannel struct {
	mu     sync.Mutex
	ch     chan error
	closed bool
}

// NewFailureChannel creates a failure channel buffering up to size errors.
func NewFailureChannel(size int) *FailureChannel {
	if size <= 0 {
		size = 1
	}
	return &FailureChannel{ch: make(chan error, size)}
}

// Report queues err. It returns false if err was dropped.
func (f *FailureChannel) Report(err error) bool {
	if err == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- err:
		return true
	default:
		return false
	}
}

// Failures returns the receive side of the channel.
func (f *FailureChannel) Failures() <-chan error {
	return f.ch
}

// Shutdown closes the channel. Later reports are dropped.
func (f *FailureChannel) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

// ReportingSubscriber attaches a FailureChannel to a subscriber built by a
// watermill adapter, for adapters that only expose failures via callbacks.
type ReportingSubscriber struct {
	message.Subscriber
	failures *FailureChannel
}

// NewReportingSubscriber wraps sub. Failures reported on failures are
// exposed through the FailureReporter interface.
func NewReportingSubscriber(sub message.Subscriber, failures *FailureChannel) *ReportingSubscriber {
	return &ReportingSubscriber{Subscriber: sub, failures: failures}
}

// Failures implements FailureReporter.
func (r *ReportingSubscriber) Failures() <-chan error {
	return r.failures.Failures()
}

// Close closes the wrapped subscriber and then the failure channel.
func (r *ReportingSubscriber) Close() error {
	err := r.Subscriber.Close()
	r.failures.Shutdown()
	return err
}
