// Package ledger tracks the spendable resource reserve that funds instance
// creation. The ledger gates every provisioning attempt: an admission check
// is read-only, and consumption is only ever invoked after a successful
// side-effecting step, never speculatively.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holiman/uint256"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// AlertLevel classifies the reserve for operator monitoring. It never feeds
// back into admission logic.
type AlertLevel int

const (
	AlertNormal AlertLevel = iota
	AlertWarning
	AlertCritical
)

// String returns the alert level name.
func (l AlertLevel) String() string {
	switch l {
	case AlertNormal:
		return "normal"
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Ledger holds the reserve balance, the minimum-threshold policy, and
// cumulative consumption. All mutation happens under one mutex so a consume
// commits fully before the next admission check reads the balance.
type Ledger struct {
	mu            sync.Mutex
	reserve       *uint256.Int
	minThreshold  *uint256.Int
	totalConsumed *uint256.Int
	log           *slog.Logger
}

// New creates a ledger with the given initial reserve and threshold policy.
func New(initialReserve, minThreshold *uint256.Int, log *slog.Logger) *Ledger {
	l := &Ledger{
		reserve:       new(uint256.Int),
		minThreshold:  new(uint256.Int),
		totalConsumed: new(uint256.Int),
		log:           log,
	}
	if initialReserve != nil {
		l.reserve.Set(initialReserve)
	}
	if minThreshold != nil {
		l.minThreshold.Set(minThreshold)
	}
	return l
}

// CheckAdmission reports whether the reserve can fund a request. It fails if
// the reserve is below the policy floor regardless of the request size, or if
// the request exceeds the reserve. Read-only; a failing check never changes
// any balance.
func (l *Ledger) CheckAdmission(required *uint256.Int) error {
	if err := interfaces.RequireAmount(required); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserve.Lt(l.minThreshold) {
		return fmt.Errorf("%w: reserve %s below minimum threshold %s",
			interfaces.ErrResourceExhausted, l.reserve.Dec(), l.minThreshold.Dec())
	}
	if l.reserve.Lt(required) {
		return fmt.Errorf("%w: reserve %s cannot fund request of %s",
			interfaces.ErrResourceExhausted, l.reserve.Dec(), required.Dec())
	}
	return nil
}

// Consume debits the reserve and credits total consumption atomically. The
// balance is re-validated here as defense against races between check and
// consume; arithmetic saturates rather than wrapping.
func (l *Ledger) Consume(amount *uint256.Int) error {
	if err := interfaces.RequireAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserve.Lt(amount) {
		return fmt.Errorf("%w: reserve %s cannot fund consumption of %s",
			interfaces.ErrResourceExhausted, l.reserve.Dec(), amount.Dec())
	}

	l.reserve.Sub(l.reserve, amount)
	if _, overflow := l.totalConsumed.AddOverflow(l.totalConsumed, amount); overflow {
		l.totalConsumed.SetAllOne()
	}

	l.log.Info("Resource consumed",
		slog.String("amount", amount.Dec()),
		slog.String("reserve", l.reserve.Dec()),
		slog.String("totalConsumed", l.totalConsumed.Dec()))
	return nil
}

// Add credits the reserve, saturating at the maximum. Admin-only.
func (l *Ledger) Add(amount *uint256.Int) error {
	if err := interfaces.RequireAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, overflow := l.reserve.AddOverflow(l.reserve, amount); overflow {
		l.reserve.SetAllOne()
	}

	l.log.Info("Reserve topped up",
		slog.String("amount", amount.Dec()),
		slog.String("reserve", l.reserve.Dec()))
	return nil
}

// SetThreshold replaces the minimum-threshold policy. Admin-only.
func (l *Ledger) SetThreshold(amount *uint256.Int) error {
	if err := interfaces.RequireAmount(amount); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.minThreshold.Set(amount)
	l.log.Info("Minimum threshold updated", slog.String("minThreshold", l.minThreshold.Dec()))
	return nil
}

// AlertLevel classifies the current reserve: Normal at or above the
// threshold, Critical at or below half the threshold, Warning in between.
func (l *Ledger) AlertLevel() AlertLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alertLevelLocked()
}

func (l *Ledger) alertLevelLocked() AlertLevel {
	if !l.reserve.Lt(l.minThreshold) {
		return AlertNormal
	}
	half := new(uint256.Int).Rsh(l.minThreshold, 1)
	if !l.reserve.Gt(half) {
		return AlertCritical
	}
	return AlertWarning
}

// Status is a point-in-time view of the ledger for reporting.
type Status struct {
	Reserve       *uint256.Int `json:"reserve"`
	MinThreshold  *uint256.Int `json:"min_threshold"`
	TotalConsumed *uint256.Int `json:"total_consumed"`
	Alert         string       `json:"alert"`
}

// Status returns a snapshot of the ledger for reporting.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Status{
		Reserve:       new(uint256.Int).Set(l.reserve),
		MinThreshold:  new(uint256.Int).Set(l.minThreshold),
		TotalConsumed: new(uint256.Int).Set(l.totalConsumed),
		Alert:         l.alertLevelLocked().String(),
	}
}

// Snapshot is the persisted form of the ledger, with amounts as decimal
// strings so the state blob stays readable.
type Snapshot struct {
	Reserve       string `json:"reserve"`
	MinThreshold  string `json:"min_threshold"`
	TotalConsumed string `json:"total_consumed"`
}

// Snapshot captures the ledger for persistence.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		Reserve:       l.reserve.Dec(),
		MinThreshold:  l.minThreshold.Dec(),
		TotalConsumed: l.totalConsumed.Dec(),
	}
}

// Restore replaces the ledger contents from a persisted snapshot.
func (l *Ledger) Restore(snap Snapshot) error {
	reserve, err := uint256.FromDecimal(snap.Reserve)
	if err != nil {
		return fmt.Errorf("%w: invalid reserve %q: %v", interfaces.ErrInternal, snap.Reserve, err)
	}
	minThreshold, err := uint256.FromDecimal(snap.MinThreshold)
	if err != nil {
		return fmt.Errorf("%w: invalid min threshold %q: %v", interfaces.ErrInternal, snap.MinThreshold, err)
	}
	totalConsumed, err := uint256.FromDecimal(snap.TotalConsumed)
	if err != nil {
		return fmt.Errorf("%w: invalid total consumed %q: %v", interfaces.ErrInternal, snap.TotalConsumed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserve.Set(reserve)
	l.minThreshold.Set(minThreshold)
	l.totalConsumed.Set(totalConsumed)
	return nil
}
