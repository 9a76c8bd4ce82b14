package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/five82/casadeck/internal/casaos"
)

// Snapshot represents the latest server data available to the UI.
type Snapshot struct {
	System              casaos.SystemInfo
	HasSystem           bool
	Apps                []casaos.AppInfo
	HasApps             bool
	LastUpdated         time.Time
	LastError           error
	ConsecutiveFailures int // Number of consecutive poll failures
}

// IsOffline returns true when the server has been unreachable for multiple polls.
func (s Snapshot) IsOffline() bool {
	return s.ConsecutiveFailures >= 2
}

// App returns the app with the given id.
func (s Snapshot) App(id string) (casaos.AppInfo, bool) {
	for _, app := range s.Apps {
		if app.ID == id {
			return app, true
		}
	}
	return casaos.AppInfo{}, false
}

// RunningApps counts apps whose status is running.
func (s Snapshot) RunningApps() int {
	n := 0
	for _, app := range s.Apps {
		if app.Running() {
			n++
		}
	}
	return n
}

// Store coordinates concurrent updates to the snapshot.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
	gen      uint64
	now      func() time.Time
}

// Update replaces the stored snapshot. When err is non-nil the previous data is
// kept but the error is recorded for visibility. A nil info or apps on success
// leaves that half of the snapshot untouched, so the two can refresh
// independently.
func (s *Store) Update(info *casaos.SystemInfo, apps []casaos.AppInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(info, apps, err)
}

// Generation identifies the current data set. Reset starts a new one.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// UpdateIf is Update for a result fetched during generation gen. Results
// that outlived a Reset are dropped; the return value reports whether the
// write was applied.
func (s *Store) UpdateIf(gen uint64, info *casaos.SystemInfo, apps []casaos.AppInfo, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.apply(info, apps, err)
	return true
}

func (s *Store) apply(info *casaos.SystemInfo, apps []casaos.AppInfo, err error) {
	s.snapshot.LastUpdated = s.clock()
	if err != nil {
		s.snapshot.LastError = err
		s.snapshot.ConsecutiveFailures++
		return
	}

	if info != nil {
		s.snapshot.System = *info
		s.snapshot.HasSystem = true
	}
	if apps != nil {
		s.snapshot.Apps = cloneApps(apps)
		s.snapshot.HasApps = true
	}
	s.snapshot.LastError = nil
	s.snapshot.ConsecutiveFailures = 0
}

// SetAppStatus patches one app after a lifecycle action so the list reflects
// it before the next poll.
func (s *Store) SetAppStatus(id string, status casaos.AppStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.snapshot.Apps {
		if s.snapshot.Apps[i].ID == id {
			s.snapshot.Apps[i].Status = status
			return
		}
	}
}

// Reset drops all data, as after logout or a server change.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{}
	s.gen++
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snapshot
	snap.Apps = cloneApps(s.snapshot.Apps)
	if s.snapshot.LastError != nil {
		snap.LastError = fmt.Errorf("%w", s.snapshot.LastError)
	}
	return snap
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func cloneApps(items []casaos.AppInfo) []casaos.AppInfo {
	if items == nil {
		return nil
	}
	dup := make([]casaos.AppInfo, len(items))
	copy(dup, items)
	return dup
}
