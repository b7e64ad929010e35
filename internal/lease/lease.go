// Package lease implements the crash-safe attempt lease manager from spec
// §4.6: heartbeated on-disk artifacts that let resume tell "a concurrent
// run is still alive" from "a previous run died mid-attempt."
package lease

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/iambrandonn/thence/internal/domain"
	"github.com/iambrandonn/thence/internal/fsutil"
)

// Tick and Stale are the default tunables; Stale must satisfy Stale >= 3*Tick.
const (
	Tick  = 15 * time.Second
	Stale = 90 * time.Second
)

// State is the lease's on-disk state field.
type State string

const (
	StateActive   State = "active"
	StateReleased State = "released"
)

// Lease is the schema persisted at each lease path.
type Lease struct {
	SchemaVersion int       `json:"schema_version"`
	OwnerPID      int       `json:"owner_pid"`
	StartedAt     time.Time `json:"started_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	State         State     `json:"state"`
}

// Path returns the on-disk lease path for one (task, attempt, role),
// matching the layout in spec §6.
func Path(runDir, taskID string, attempt int64, role domain.ActorRole) string {
	name := "implementer.json"
	if role == domain.ActorReviewer {
		name = "reviewer.json"
	}
	return filepath.Join(runDir, "leases", taskID, fmt.Sprintf("attempt%d", attempt), name)
}

// InitActive writes a fresh active lease owned by the current process.
func InitActive(path string) error {
	now := time.Now().UTC()
	l := Lease{
		SchemaVersion: 1,
		OwnerPID:      os.Getpid(),
		StartedAt:     now,
		LastSeenAt:    now,
		State:         StateActive,
	}
	return fsutil.AtomicWriteJSON(path, l)
}

// Read loads the lease at path, or (nil, nil) if no lease file exists.
func Read(path string) (*Lease, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lease %s: %w", path, err)
	}
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse lease %s: %w", path, err)
	}
	return &l, nil
}

// tick rewrites last_seen_at if the lease is still active. Writes are
// crash-safe (temp file + rename, via fsutil.AtomicWriteJSON).
func tick(path string) error {
	l, err := Read(path)
	if err != nil {
		return err
	}
	if l == nil || l.State != StateActive {
		return nil
	}
	l.LastSeenAt = time.Now().UTC()
	return fsutil.AtomicWriteJSON(path, l)
}

// Release marks the lease at path as released. Idempotent if the file is
// absent.
func Release(path string) error {
	l, err := Read(path)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	l.State = StateReleased
	l.LastSeenAt = time.Now().UTC()
	return fsutil.AtomicWriteJSON(path, l)
}

// Ticker owns one lease path's heartbeat for the lifetime of one attempt.
// Model: the only background task in the process, a short-lived timer with
// an explicit stop signal and a join on shutdown (spec §9) — never extend
// this to multi-attempt or multi-task leasing.
type Ticker struct {
	path   string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// StartTicker initializes an active lease at path and starts ticking it
// every interval until Stop is called.
func StartTicker(path string, interval time.Duration) (*Ticker, error) {
	if err := InitActive(path); err != nil {
		return nil, err
	}
	t := &Ticker{path: path, stopCh: make(chan struct{})}
	t.wg.Add(1)
	go t.run(interval)
	return t, nil
}

func (t *Ticker) run(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			_ = tick(t.path)
		}
	}
}

// Stop signals the ticker to stop and waits for its goroutine to exit.
func (t *Ticker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// StopAndRelease stops the ticker then releases the lease, the normal path
// before a terminal per-attempt event.
func (t *Ticker) StopAndRelease() error {
	t.Stop()
	return Release(t.path)
}

// Decision is the outcome of EvaluateOrphan.
type Decision struct {
	Interrupt bool
	Reason    string
}

// EvaluateOrphan inspects the newest lease among implementer/reviewer for
// one attempt and decides whether resume should treat it as interrupted or
// refuse because the owner may still be alive. "Owner alive" (an
// informational signal-0 probe) is deliberately not consulted here — it
// never overrides the age window, so pid reuse cannot produce a false
// LikelyActive (spec §4.6).
func EvaluateOrphan(runDir, taskID string, attempt int64) (Decision, error) {
	var newest *Lease
	for _, role := range []domain.ActorRole{domain.ActorImplementer, domain.ActorReviewer} {
		l, err := Read(Path(runDir, taskID, attempt, role))
		if err != nil {
			return Decision{}, err
		}
		if l == nil {
			continue
		}
		if newest == nil || l.LastSeenAt.After(newest.LastSeenAt) {
			newest = l
		}
	}

	if newest == nil {
		return Decision{Interrupt: true, Reason: "no lease found"}, nil
	}
	if newest.State == StateReleased {
		return Decision{Interrupt: true, Reason: "released without terminal event"}, nil
	}

	age := time.Since(newest.LastSeenAt)
	if age <= Stale {
		return Decision{Interrupt: false, Reason: "lease age within stale window"}, nil
	}
	return Decision{Interrupt: true, Reason: fmt.Sprintf("stale lease age=%s", age.Round(time.Second))}, nil
}

// ProcessAlive is the informational signal-0 probe mentioned in spec §4.6.
// It is never used to override EvaluateOrphan's age-based decision.
func ProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
