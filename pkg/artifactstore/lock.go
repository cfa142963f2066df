package artifactstore

import (
	"os"
	"time"
)

const lockPollInterval = 250 * time.Millisecond
const lockWarnAfter = 5 * time.Minute

// acquireLock attempts to create the sentinel lock directory, returning
// true if this call won the race.
func (s *Store) acquireLock(lockDir string) (bool, error) {
	err := os.Mkdir(lockDir, 0o755)
	if err == nil {
		return true, nil
	}
	if os.IsExist(err) {
		return false, nil
	}
	return false, err
}

// waitForLock blocks until lockDir no longer exists, warning once every
// five minutes it has been held (spec.md §4.1's locking discipline).
func (s *Store) waitForLock(lockDir string) {
	start := time.Now()
	lastWarn := time.Time{}
	for {
		if _, err := os.Stat(lockDir); os.IsNotExist(err) {
			return
		}
		if time.Since(start) >= lockWarnAfter && time.Since(lastWarn) >= lockWarnAfter {
			s.logger.Warn().Str("lock", lockDir).Dur("held_for", time.Since(start)).
				Msg("waiting on artifact lock for more than five minutes")
			lastWarn = time.Now()
		}
		time.Sleep(lockPollInterval)
	}
}

func (s *Store) releaseLock(lockDir string) {
	if err := os.Remove(lockDir); err != nil && !os.IsNotExist(err) {
		s.logger.Error().Err(err).Str("lock", lockDir).Msg("unable to release artifact lock")
	}
}
