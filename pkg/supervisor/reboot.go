package supervisor

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/sandialabs/firewheel/pkg/schedule"
)

// RebootWindow returns the sleep window a supervisor waits out after
// issuing a reboot before reconnecting, widened on Windows guests which
// take longer to come back up (spec.md §4.8, supplemented per
// original_source's OS-keyed constant table).
func RebootWindow(guestOS string) (minWait, maxWait time.Duration) {
	if strings.EqualFold(guestOS, "windows") {
		return 45 * time.Second, 90 * time.Second
	}
	return 25 * time.Second, 45 * time.Second
}

// performReboot issues the reboot, sleeps out the OS-appropriate window,
// reconnects, and re-enqueues every entry that requested it so the main
// loop re-dispatches them once the guest is back.
func (s *Supervisor) performReboot(ctx context.Context, pending []rebootRequest) error {
	s.logger.Info().Int("entries", len(pending)).Msg("rebooting guest")

	if err := s.cfg.Driver.Reboot(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("reboot call failed, proceeding with sleep window anyway")
	}

	minWait, maxWait := RebootWindow(s.guestOS)
	jitter := time.Duration(rand.Int63n(int64(maxWait - minWait)))
	select {
	case <-time.After(minWait + jitter):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.connectWithRetry(ctx); err != nil {
		return err
	}

	s.cfg.Cond.L.Lock()
	for _, req := range pending {
		s.cfg.Queue.Push(req.priority, &schedule.Event{Type: schedule.EventNewItem, Entry: req.entry})
	}
	s.cfg.Cond.Signal()
	s.cfg.Cond.L.Unlock()

	return nil
}
