// Package destroy implements the size-adaptive destruction dispatcher
// (§4.8): compound values at or above the large-value threshold are
// torn down off the event-loop goroutine by a single background
// worker; everything else is freed inline since async hand-off would
// cost more than the teardown itself.
package destroy

import (
	"github.com/behrlich/go-kvd/internal/constants"
	"github.com/behrlich/go-kvd/internal/logging"
)

// Job is a closure that owns (and tears down) exactly one value. A
// panicking job is recovered, logged, and does not affect the worker
// or the main loop; the value is still considered freed since the
// closure captured it.
type Job func()

// Destructor runs Jobs on a single background worker, fed by an
// unbounded-submission, bounded-buffer channel so Submit is always
// O(1) and never blocks the event-loop goroutine.
type Destructor struct {
	jobs   chan Job
	done   chan struct{}
	logger *logging.Logger
}

const jobQueueCapacity = 4096

// New starts the background worker and returns a ready Destructor.
func New(logger *logging.Logger) *Destructor {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Destructor{
		jobs:   make(chan Job, jobQueueCapacity),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

func (d *Destructor) run() {
	defer close(d.done)
	for job := range d.jobs {
		d.runJob(job)
	}
}

func (d *Destructor) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("destructor job panicked", "recover", r)
		}
	}()
	job()
}

// Submit hands off job to the background worker. It never blocks the
// caller on worker progress: the channel is large enough to absorb
// ordinary bursts, and a full channel runs the job inline rather than
// stalling the event loop (same cost as the synchronous path below,
// just taken under back-pressure instead of by size policy).
func (d *Destructor) Submit(job Job) {
	select {
	case d.jobs <- job:
	default:
		d.runJob(job)
	}
}

// ShouldDestroyAsync applies the size policy: sorted sets at or above
// the member threshold go through the background worker; everything
// else (strings, integers, doubles, and small sorted sets) is cheaper
// to destroy inline than to hand off (§4.8, normative ≥64 policy per
// spec §9).
func ShouldDestroyAsync(zsetMemberCount int, isZSet bool) bool {
	return isZSet && zsetMemberCount >= constants.LargeZSetMemberThreshold
}

// Close stops accepting new jobs and waits for the worker to drain its
// queue before returning (§5: "workers drain their queue before
// exit").
func (d *Destructor) Close() {
	close(d.jobs)
	<-d.done
}
