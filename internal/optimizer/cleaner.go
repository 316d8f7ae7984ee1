package optimizer

import (
	"time"

	"github.com/wb-go/wbf/zlog"
)

// Cleaner periodically removes derivative files older than maxAge. It is an
// explicitly stoppable task rather than a detached loop, so shutdown is
// deterministic.
type Cleaner struct {
	opt      *Optimizer
	interval time.Duration
	maxAge   time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewCleaner creates a Cleaner sweeping every interval.
func NewCleaner(opt *Optimizer, interval, maxAge time.Duration) *Cleaner {
	return &Cleaner{
		opt:      opt,
		interval: interval,
		maxAge:   maxAge,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (c *Cleaner) Start() {
	go c.loop()
}

// Stop terminates the loop and waits for an in-progress sweep to finish.
func (c *Cleaner) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cleaner) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := c.opt.CleanupOlderThan(c.maxAge)
			if removed > 0 {
				zlog.Logger.Info().
					Int("removed", removed).
					Dur("max_age", c.maxAge).
					Msg("cleaned up stale derivatives")
			}
		case <-c.stop:
			return
		}
	}
}
