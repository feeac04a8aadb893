// Package txn implements the Transaction Manager: Serializable Snapshot
// Isolation (SSI) with dangerous-cycle detection, layered over the
// Available Copies protocol exposed by internal/store. This is the core
// of the system — spec.md §4.3.
//
// Grounded on original_source/src/transaction_manager.py (the prior
// Python implementation this behavior is distilled from) and, for Go
// idiom, on the teacher's mvcc.SnapshotManager (bundoc/mvcc/snapshot.go):
// a status-tagged transaction record plus a manager that owns every
// active transaction and the serialization graph between them.
package txn

// Status is the lifecycle state of a transaction (spec.md §3).
type Status int

const (
	Active Status = iota
	Waiting
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Waiting:
		return "waiting"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// AbortCause tags why a transaction aborted. Kept as a closed sum type
// rather than a runtime error hierarchy, per spec.md §7: the driver only
// ever needs to print "<tid> aborts", but the cause drives diagnostic
// logging and is exercised directly by tests.
type AbortCause int

const (
	// NoAbort is the zero value: the transaction has not aborted.
	NoAbort AbortCause = iota
	NoValidReplica
	SiteFailedAfterWrite
	FirstCommitterWins
	SSIDangerousCycle
	WaitingAtEnd
	UnknownTransaction
)

func (c AbortCause) String() string {
	switch c {
	case NoAbort:
		return "none"
	case NoValidReplica:
		return "no-valid-replica"
	case SiteFailedAfterWrite:
		return "site-failed-after-write"
	case FirstCommitterWins:
		return "first-committer-wins"
	case SSIDangerousCycle:
		return "ssi-dangerous-cycle"
	case WaitingAtEnd:
		return "waiting-at-end"
	case UnknownTransaction:
		return "unknown-transaction"
	default:
		return "unknown-abort-cause"
	}
}

// readEntry remembers a value a transaction read, and the site it was
// served from — spec.md §3's read_set.
type readEntry struct {
	value  int
	siteID int
}

// writeEntry remembers a value a transaction buffered, and the sites that
// were up (and thus targeted) at write time — spec.md §3's write_set.
type writeEntry struct {
	value    int
	upSites  map[int]bool
}

// Transaction is one transaction's full state, per spec.md §3, plus the
// diagnostic-only sites_accessed/site_first_access_time bookkeeping
// original_source/src/models.py's Transaction dataclass carries (kept here
// for parity and possible future diagnostics; it never affects validation
// decisions).
type Transaction struct {
	ID         string
	StartTime  uint64
	Status     Status
	AbortCause AbortCause
	AbortNote  string

	readSet   map[string]readEntry
	writeSet  map[string]writeEntry
	writeOrder []string

	sitesWritten   map[int]bool
	siteWriteTime  map[int]uint64
	sitesAccessed  map[int]bool
	siteFirstSeen  map[int]uint64

	waitingFor string
}

func newTransaction(id string, startTime uint64) *Transaction {
	return &Transaction{
		ID:            id,
		StartTime:     startTime,
		Status:        Active,
		readSet:       make(map[string]readEntry),
		writeSet:      make(map[string]writeEntry),
		sitesWritten:  make(map[int]bool),
		siteWriteTime: make(map[int]uint64),
		sitesAccessed: make(map[int]bool),
		siteFirstSeen: make(map[int]uint64),
	}
}

// WroteVar reports whether the transaction has buffered a write to name,
// and its buffered value.
func (t *Transaction) WroteVar(name string) (int, bool) {
	e, ok := t.writeSet[name]
	return e.value, ok
}

// ReadVar reports whether the transaction's read set already holds name.
func (t *Transaction) ReadVar(name string) (int, bool) {
	e, ok := t.readSet[name]
	return e.value, ok
}

// WrittenVars returns the names this transaction has buffered writes for,
// in the order they were first written.
func (t *Transaction) WrittenVars() []string {
	return t.writeOrder
}

// setWrite records or overwrites a buffered write, preserving first-write
// order for WrittenVars.
func (t *Transaction) setWrite(name string, e writeEntry) {
	if _, exists := t.writeSet[name]; !exists {
		t.writeOrder = append(t.writeOrder, name)
	}
	t.writeSet[name] = e
}

// edgeKind is the type of an inferred or explicit serialization-graph
// edge between two transactions — spec.md §4.3.6.
type edgeKind int

const (
	edgeRW edgeKind = iota
	edgeWW
	edgeWR
)

func (e edgeKind) String() string {
	switch e {
	case edgeRW:
		return "RW"
	case edgeWW:
		return "WW"
	case edgeWR:
		return "WR"
	default:
		return "?"
	}
}
