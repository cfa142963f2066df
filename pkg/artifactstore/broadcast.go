package artifactstore

import (
	"strings"
	"time"
)

const (
	broadcastMaxAttempts = 10
	broadcastBackoff     = 500 * time.Millisecond
	transferPollInterval = 250 * time.Millisecond
)

// Broadcast instructs every peer to fetch name, then blocks until every
// peer reports a consistent, non-transferring view of it (spec.md §4.1's
// broadcast protocol). With no peers configured, it trivially succeeds.
func (s *Store) Broadcast(name string) (bool, error) {
	if len(s.peers) == 0 {
		return true, nil
	}

	for attempt := 0; attempt < broadcastMaxAttempts; attempt++ {
		err := s.broadcastOnce(name)
		if err == nil {
			break
		}
		if strings.Contains(strings.ToLower(err.Error()), "already in flight") {
			break
		}
		if attempt == broadcastMaxAttempts-1 {
			return false, err
		}
		time.Sleep(broadcastBackoff)
	}

	return s.waitForConsistentTransfer(name), nil
}

func (s *Store) broadcastOnce(name string) error {
	for _, p := range s.peers {
		if err := p.RequestFetch(s.name, name); err != nil {
			return err
		}
	}
	return nil
}

// waitForConsistentTransfer polls every peer's transfer status and, once
// none report an in-flight transfer for name, checks that every peer's
// listing agrees. Matches the original's mesh-wide transfer/consistency
// loop in broadcast_get_file / _check_mesh_transfer.
func (s *Store) waitForConsistentTransfer(name string) bool {
	for {
		time.Sleep(transferPollInterval)

		transferring := false
		for _, p := range s.peers {
			busy, err := p.Transferring(s.name, name)
			if err != nil || busy {
				transferring = true
				break
			}
		}
		if transferring {
			continue
		}

		if s.peersConsistent(name) {
			return true
		}
		return false
	}
}

func (s *Store) peersConsistent(name string) bool {
	local, err := s.List(name)
	if err != nil || len(local) == 0 {
		return false
	}
	localSize, err := s.Size(name)
	if err != nil {
		return false
	}

	for _, p := range s.peers {
		entries, err := p.ListContents(s.name, name)
		if err != nil {
			return false
		}
		if len(entries) != 1 || entries[0].Size != localSize {
			return false
		}
	}
	return true
}
