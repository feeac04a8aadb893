package txn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/avcopies/ssidb/internal/clock"
	"github.com/avcopies/ssidb/internal/logging"
	"github.com/avcopies/ssidb/internal/store"
	"github.com/avcopies/ssidb/internal/topology"
)

// commitRecord is one entry in a variable's commit history: the time a
// transaction's write to it committed. Grounded on
// original_source/src/transaction_manager.py's variable_commit_history.
type commitRecord struct {
	commitTime uint64
	tid        string
}

// waitingOp is a parked read, retried on every site recovery until it
// succeeds or its transaction ends. Grounded on
// original_source/src/models.py's WaitingOperation.
type waitingOp struct {
	tid     string
	varName string
}

// Manager is the Transaction Manager: the single-threaded brain that owns
// every transaction, the serialization graph between them, and the
// per-variable commit history First-Committer-Wins checks against. It
// never itself fails (spec.md §4.3.1); failure only ever happens to sites,
// routed through the embedded store.Manager.
type Manager struct {
	store *store.Manager
	clock *clock.Clock
	log   zerolog.Logger

	txns  map[string]*Transaction
	order []string

	waiting []waitingOp

	commitHistory map[string][]commitRecord
	edges         map[string]map[string]edgeKind
	snapshotReads map[string]map[string]string // tid -> var -> writer tid
}

// New builds a Manager over a fresh store seeded from topo, sharing clk
// with the driver that advances it once per input line. log is the
// run-scoped base logger every site-fail/recover and transaction
// abort/park/resume event is tagged from (spec.md §4.6's debug-level
// diagnostic events).
func New(topo topology.Topology, clk *clock.Clock, log zerolog.Logger) *Manager {
	return &Manager{
		store:         store.NewManager(topo),
		clock:         clk,
		log:           log,
		txns:          make(map[string]*Transaction),
		commitHistory: make(map[string][]commitRecord),
		edges:         make(map[string]map[string]edgeKind),
		snapshotReads: make(map[string]map[string]string),
	}
}

// Begin starts a new transaction with start time equal to the clock's
// current tick, per spec.md §4.3.2.
func (m *Manager) Begin(tid string) string {
	if _, exists := m.txns[tid]; !exists {
		m.order = append(m.order, tid)
	}
	m.txns[tid] = newTransaction(tid, m.clock.Now())
	return fmt.Sprintf("%s begins", tid)
}

// Read performs a snapshot read of varName on behalf of tid, per spec.md
// §4.3.3. It may return a value line, an abort line (no valid replica),
// or a waiting line — or nothing, if the transaction has already aborted.
func (m *Manager) Read(tid, varName string) string {
	txn, ok := m.txns[tid]
	if !ok {
		return fmt.Sprintf("Error: Transaction %s not found", tid)
	}
	if txn.Status == Aborted {
		return ""
	}

	if v, ok := txn.WroteVar(varName); ok {
		return fmt.Sprintf("%s: %d", varName, v)
	}
	if v, ok := txn.ReadVar(varName); ok {
		return fmt.Sprintf("%s: %d", varName, v)
	}

	sites, err := m.store.SitesHosting(varName)
	if err != nil {
		return fmt.Sprintf("Error: %s", err)
	}
	replicated, _ := m.store.IsReplicated(varName)

	for _, sid := range sites {
		site, err := m.store.Site(sid)
		if err != nil || !site.Up() {
			continue
		}
		if value, ok := site.SnapshotRead(varName, txn.StartTime, txn.StartTime); ok {
			m.recordRead(txn, varName, sid, value)
			return fmt.Sprintf("%s: %d", varName, value)
		}
	}

	if replicated && !m.anyValidReplica(sites, varName, txn.StartTime) {
		m.abort(tid, NoValidReplica, fmt.Sprintf("no site has valid data for %s - all sites failed after last commit", varName))
		return fmt.Sprintf("%s aborts", tid)
	}

	txn.Status = Waiting
	txn.waitingFor = varName
	m.waiting = append(m.waiting, waitingOp{tid: tid, varName: varName})
	logging.WithTxn(m.log, tid).Debug().Str("var", varName).Msg("waiting read parked")
	return fmt.Sprintf("%s waiting for %s (no available site)", tid, varName)
}

// anyValidReplica reports whether some site hosting varName — up or down —
// holds a version that was continuously available from its commit time
// through asOf, i.e. whether the data is merely inaccessible right now
// rather than genuinely lost. Grounded on transaction_manager.py's
// any_valid_site fallback check inside read().
func (m *Manager) anyValidReplica(sites []int, varName string, asOf uint64) bool {
	for _, sid := range sites {
		site, err := m.store.Site(sid)
		if err != nil {
			continue
		}
		if site.HasValidSnapshot(varName, asOf) {
			return true
		}
	}
	return false
}

func (m *Manager) recordRead(txn *Transaction, varName string, siteID, value int) {
	txn.readSet[varName] = readEntry{value: value, siteID: siteID}
	txn.sitesAccessed[siteID] = true
	if _, seen := txn.siteFirstSeen[siteID]; !seen {
		txn.siteFirstSeen[siteID] = m.clock.Now()
	}
	if m.snapshotReads[txn.ID] == nil {
		m.snapshotReads[txn.ID] = make(map[string]string)
	}
	m.snapshotReads[txn.ID][varName] = m.snapshotWriter(varName, txn.StartTime)
	m.checkRWOnRead(txn, varName)
}

// snapshotWriter returns the transaction id that committed the version of
// varName visible as of startTime, "init" if none has.
func (m *Manager) snapshotWriter(varName string, startTime uint64) string {
	writer := topology.InitWriter
	var latest uint64
	for _, rec := range m.commitHistory[varName] {
		if rec.commitTime <= startTime && rec.commitTime > latest {
			latest = rec.commitTime
			writer = rec.tid
		}
	}
	return writer
}

// checkRWOnRead adds an RW edge reader -> writer for every other
// non-terminal transaction that has already buffered a write to varName —
// spec.md §4.3.6's rule that a read creates an anti-dependency on
// concurrent (or committed-later) writers.
func (m *Manager) checkRWOnRead(reader *Transaction, varName string) {
	for _, otherID := range m.order {
		if otherID == reader.ID {
			continue
		}
		other := m.txns[otherID]
		if other.Status == Aborted || other.Status == Committed {
			continue
		}
		if _, wrote := other.writeSet[varName]; wrote {
			m.addEdge(reader.ID, otherID, edgeRW)
		}
	}
}

// Write buffers a value for varName at every currently-up site hosting it,
// per spec.md §4.3.4. The write is never rejected for lack of up sites
// (resolved Open Question: an empty target set is buffered, not aborted).
func (m *Manager) Write(tid, varName string, value int) string {
	txn, ok := m.txns[tid]
	if !ok {
		return fmt.Sprintf("Error: Transaction %s not found", tid)
	}
	if txn.Status == Aborted {
		return ""
	}

	upSites, err := m.store.UpSitesHosting(varName)
	if err != nil {
		return fmt.Sprintf("Error: %s", err)
	}
	upSet := make(map[int]bool, len(upSites))
	for _, s := range upSites {
		upSet[s] = true
	}
	txn.setWrite(varName, writeEntry{value: value, upSites: upSet})

	for s := range upSet {
		txn.sitesWritten[s] = true
		txn.sitesAccessed[s] = true
		if _, seen := txn.siteFirstSeen[s]; !seen {
			txn.siteFirstSeen[s] = m.clock.Now()
		}
		if _, seen := txn.siteWriteTime[s]; !seen {
			txn.siteWriteTime[s] = m.clock.Now()
		}
	}

	m.checkDependenciesOnWrite(txn, varName)

	if len(upSet) > 0 {
		return fmt.Sprintf("%s writes %s=%d to sites: %s", tid, varName, value, joinSortedInts(upSet))
	}
	return fmt.Sprintf("%s writes %s=%d (no sites available)", tid, varName, value)
}

// checkDependenciesOnWrite adds an RW edge reader -> writer for every
// other non-terminal transaction that already read varName from a
// snapshot — the write now anti-depends the earlier reader on this writer.
func (m *Manager) checkDependenciesOnWrite(writer *Transaction, varName string) {
	for _, otherID := range m.order {
		if otherID == writer.ID {
			continue
		}
		other := m.txns[otherID]
		if other.Status == Aborted || other.Status == Committed {
			continue
		}
		if _, read := other.readSet[varName]; read {
			m.addEdge(otherID, writer.ID, edgeRW)
		}
	}
}

func (m *Manager) addEdge(from, to string, kind edgeKind) {
	if m.edges[from] == nil {
		m.edges[from] = make(map[string]edgeKind)
	}
	m.edges[from][to] = kind
}

// End validates and commits or aborts tid, per spec.md §4.3.7–§4.3.9: site
// failure after write, First-Committer-Wins, then SSI dangerous-cycle
// detection, in that order — the first violation found decides the abort.
func (m *Manager) End(tid string) string {
	txn, ok := m.txns[tid]
	if !ok {
		return fmt.Sprintf("Error: Transaction %s not found", tid)
	}
	if txn.Status == Aborted {
		return fmt.Sprintf("%s aborts", tid)
	}
	if txn.Status == Waiting {
		m.abort(tid, WaitingAtEnd, "transaction was waiting and ended")
		return fmt.Sprintf("%s aborts (still waiting)", tid)
	}

	for _, siteID := range sortedIntKeys(txn.sitesWritten) {
		site, err := m.store.Site(siteID)
		if err != nil {
			continue
		}
		writeTime, ok := txn.siteWriteTime[siteID]
		if !ok {
			writeTime = txn.StartTime
		}
		if site.FailedAfter(writeTime) {
			m.abort(tid, SiteFailedAfterWrite, fmt.Sprintf("site %d failed after transaction wrote to it", siteID))
			return fmt.Sprintf("%s aborts", tid)
		}
	}

	for _, varName := range txn.WrittenVars() {
		for _, rec := range m.commitHistory[varName] {
			if rec.commitTime > txn.StartTime && rec.tid != tid {
				m.abort(tid, FirstCommitterWins, fmt.Sprintf("first committer wins: %s committed %s first", rec.tid, varName))
				return fmt.Sprintf("%s aborts", tid)
			}
		}
	}

	if m.wouldCreateDangerousCycle(tid) {
		m.abort(tid, SSIDangerousCycle, "SSI cycle with consecutive RW edges detected")
		return fmt.Sprintf("%s aborts", tid)
	}

	m.commit(tid)
	return fmt.Sprintf("%s commits", tid)
}

func (m *Manager) commit(tid string) {
	txn := m.txns[tid]
	commitTime := m.clock.Now()

	for _, varName := range txn.WrittenVars() {
		entry := txn.writeSet[varName]
		upNow, _ := m.store.UpSitesHosting(varName)
		upNowSet := make(map[int]bool, len(upNow))
		for _, s := range upNow {
			upNowSet[s] = true
		}
		for _, siteID := range sortedIntKeys(entry.upSites) {
			if !upNowSet[siteID] {
				continue
			}
			site, err := m.store.Site(siteID)
			if err != nil {
				continue
			}
			site.ApplyCommit(varName, entry.value, commitTime, tid)
		}
		m.commitHistory[varName] = append(m.commitHistory[varName], commitRecord{commitTime: commitTime, tid: tid})
	}

	txn.Status = Committed
}

// abort marks tid aborted, tags the cause, and severs it from the waiting
// queue and the serialization graph — an aborted transaction can neither
// block a read nor participate in a future cycle check.
func (m *Manager) abort(tid string, cause AbortCause, note string) {
	txn, ok := m.txns[tid]
	if !ok {
		return
	}
	txn.Status = Aborted
	txn.AbortCause = cause
	txn.AbortNote = note

	logging.WithTxn(m.log, tid).Debug().Str("cause", cause.String()).Str("note", note).Msg("transaction aborted")

	stillWaiting := m.waiting[:0]
	for _, w := range m.waiting {
		if w.tid != tid {
			stillWaiting = append(stillWaiting, w)
		}
	}
	m.waiting = stillWaiting

	delete(m.edges, tid)
	for other := range m.edges {
		delete(m.edges[other], tid)
	}
}

// wouldCreateDangerousCycle is spec.md §4.3.6's SSI validation: a
// transaction may not commit if doing so would close a cycle in the
// serialization graph containing two consecutive RW edges. Grounded
// line-for-line on transaction_manager.py's _would_create_dangerous_cycle.
func (m *Manager) wouldCreateDangerousCycle(tid string) bool {
	txn := m.txns[tid]

	for _, varName := range txn.WrittenVars() {
		for _, rec := range m.commitHistory[varName] {
			if rec.tid == tid {
				continue
			}
			committed, ok := m.txns[rec.tid]
			if !ok || committed.Status != Committed {
				continue
			}
			if m.canReachFromTid(tid, rec.tid, map[string]bool{}) {
				return true
			}
		}
	}

	var incomingRW, outgoingRW []string
	for other, edges := range m.edges {
		if kind, ok := edges[tid]; ok && kind == edgeRW {
			if t, ok2 := m.txns[other]; ok2 && t.Status == Committed {
				incomingRW = append(incomingRW, other)
			}
		}
	}
	for target, kind := range m.edges[tid] {
		if kind != edgeRW {
			continue
		}
		if t, ok := m.txns[target]; ok && t.Status == Committed {
			outgoingRW = append(outgoingRW, target)
		}
	}

	for _, in := range incomingRW {
		for _, out := range outgoingRW {
			if m.canReachViaCommitted(out, in, map[string]bool{}) {
				return true
			}
		}
	}

	var activeIncomingRW []string
	for other, edges := range m.edges {
		if kind, ok := edges[tid]; ok && kind == edgeRW {
			if t, ok2 := m.txns[other]; ok2 && t.Status == Active {
				activeIncomingRW = append(activeIncomingRW, other)
			}
		}
	}
	for _, in := range activeIncomingRW {
		for _, out := range outgoingRW {
			if m.canReachViaCommitted(out, in, map[string]bool{}) {
				return true
			}
		}
	}

	return false
}

// canReachFromTid is a plain reachability DFS over every edge, regardless
// of transaction status — used only to detect whether committing tid
// would let it reach a variable it's about to overwrite a dependency of.
func (m *Manager) canReachFromTid(from, to string, visited map[string]bool) bool {
	if from == to {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true
	for next := range m.edges[from] {
		if m.canReachFromTid(next, to, visited) {
			return true
		}
	}
	return false
}

// canReachViaCommitted walks only through committed transactions' edges,
// plus the implicit WR edge a snapshot read leaves on its writer — the
// "dangerous structure" SSI forbids is two RW edges bridged by a path of
// committed transactions like this one.
func (m *Manager) canReachViaCommitted(from, to string, visited map[string]bool) bool {
	if from == to {
		return true
	}
	if visited[from] {
		return false
	}
	visited[from] = true

	fromTxn, ok1 := m.txns[from]
	toTxn, ok2 := m.txns[to]
	if !ok1 || !ok2 {
		return false
	}
	if fromTxn.Status != Committed {
		return false
	}

	for next := range m.edges[from] {
		if m.canReachViaCommitted(next, to, visited) {
			return true
		}
	}
	for varName := range toTxn.readSet {
		if writer, ok := m.snapshotReads[to][varName]; ok && writer == from {
			return true
		}
	}
	return false
}

// Fail marks a site down, per spec.md §4.3.8.
func (m *Manager) Fail(siteID int) (string, error) {
	if err := m.store.Fail(siteID, m.clock.Now()); err != nil {
		return "", err
	}
	logging.WithSite(m.log, siteID).Debug().Msg("site failed")
	return fmt.Sprintf("Site %d failed", siteID), nil
}

// Recover marks a site up and resumes any waiting reads it can now
// satisfy, per spec.md §4.3.8. The resumption check never re-applies the
// no-valid-replica abort path (resolved Open Question): a waiting
// transaction is only ever unparked by a successful read or terminated by
// End.
func (m *Manager) Recover(siteID int) (string, error) {
	if err := m.store.Recover(siteID, m.clock.Now()); err != nil {
		return "", err
	}
	logging.WithSite(m.log, siteID).Debug().Msg("site recovered")
	out := fmt.Sprintf("Site %d recovered", siteID)
	if resumed := m.resumeWaiting(); resumed != "" {
		out = out + "\n" + resumed
	}
	return out, nil
}

func (m *Manager) resumeWaiting() string {
	var resumed []string
	var stillWaiting []waitingOp

	for _, op := range m.waiting {
		txn, ok := m.txns[op.tid]
		if !ok || txn.Status != Waiting {
			continue
		}
		if line, ok := m.tryRead(op.tid, op.varName); ok {
			txn.Status = Active
			txn.waitingFor = ""
			resumed = append(resumed, line)
			logging.WithTxn(m.log, op.tid).Debug().Str("var", op.varName).Msg("waiting read resumed")
		} else {
			stillWaiting = append(stillWaiting, op)
		}
	}

	m.waiting = stillWaiting
	return strings.Join(resumed, "\n")
}

func (m *Manager) tryRead(tid, varName string) (string, bool) {
	txn := m.txns[tid]
	sites, err := m.store.SitesHosting(varName)
	if err != nil {
		return "", false
	}
	for _, sid := range sites {
		site, err := m.store.Site(sid)
		if err != nil || !site.Up() {
			continue
		}
		if value, ok := site.SnapshotRead(varName, txn.StartTime, txn.StartTime); ok {
			m.recordRead(txn, varName, sid, value)
			return fmt.Sprintf("%s: %d", varName, value), true
		}
	}
	return "", false
}

// Dump renders every site's latest committed values, per spec.md §4.3.9.
func (m *Manager) Dump() string { return m.store.Dump() }

// DumpSite renders one site's latest committed values.
func (m *Manager) DumpSite(siteID int) (string, error) { return m.store.DumpSite(siteID) }

// DumpVar renders one variable's latest committed value at every site
// that hosts it.
func (m *Manager) DumpVar(varName string) (string, error) { return m.store.DumpVar(varName) }

// Transaction returns the transaction with the given id, for diagnostics
// and tests.
func (m *Manager) Transaction(tid string) (*Transaction, bool) {
	t, ok := m.txns[tid]
	return t, ok
}

// QueryState renders a multi-line diagnostic snapshot of every
// transaction, the serialization graph, and the waiting queue — grounded
// on transaction_manager.py's query_state, which exists purely for
// debugging and isn't part of the scored output.
func (m *Manager) QueryState() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== System State ===\n")
	fmt.Fprintf(&b, "Current time: %d\n", m.clock.Now())

	fmt.Fprintf(&b, "\n--- Transactions ---\n")
	for _, tid := range m.order {
		txn := m.txns[tid]
		fmt.Fprintf(&b, "%s: status=%s, start=%d\n", tid, txn.Status, txn.StartTime)
		if len(txn.readSet) > 0 {
			fmt.Fprintf(&b, "  reads: %s\n", describeReads(txn))
		}
		if len(txn.writeSet) > 0 {
			fmt.Fprintf(&b, "  writes: %s\n", describeWrites(txn))
		}
	}

	fmt.Fprintf(&b, "\n--- Edges ---\n")
	for _, from := range m.order {
		targets := m.edges[from]
		for _, to := range sortedEdgeTargets(targets) {
			fmt.Fprintf(&b, "  %s --%s--> %s\n", from, targets[to], to)
		}
	}

	fmt.Fprintf(&b, "\n--- Waiting Operations ---\n")
	for _, op := range m.waiting {
		fmt.Fprintf(&b, "%s waiting for %s\n", op.tid, op.varName)
	}
	fmt.Fprintf(&b, "===================")
	return b.String()
}

func describeReads(txn *Transaction) string {
	names := make([]string, 0, len(txn.readSet))
	for name := range txn.readSet {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		e := txn.readSet[name]
		parts[i] = fmt.Sprintf("%s=(%d, site %d)", name, e.value, e.siteID)
	}
	return strings.Join(parts, ", ")
}

func describeWrites(txn *Transaction) string {
	parts := make([]string, len(txn.writeOrder))
	for i, name := range txn.writeOrder {
		parts[i] = fmt.Sprintf("%s=%d", name, txn.writeSet[name].value)
	}
	return strings.Join(parts, ", ")
}

func sortedEdgeTargets(targets map[string]edgeKind) []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedIntKeys(m map[int]bool) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func joinSortedInts(m map[int]bool) string {
	keys := sortedIntKeys(m)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d", k)
	}
	return strings.Join(parts, ", ")
}
