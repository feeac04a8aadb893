package txn

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avcopies/ssidb/internal/clock"
	"github.com/avcopies/ssidb/internal/topology"
)

func newTestManager(t *testing.T) (*Manager, *clock.Clock) {
	t.Helper()
	clk := clock.New()
	return New(topology.Default(), clk, zerolog.Nop()), clk
}

func TestBeginReadWriteCommit(t *testing.T) {
	m, clk := newTestManager(t)

	clk.Tick()
	assert.Equal(t, "T1 begins", m.Begin("T1"))

	clk.Tick()
	assert.Equal(t, "x2: 20", m.Read("T1", "x2"))

	clk.Tick()
	assert.Contains(t, m.Write("T1", "x2", 99), "T1 writes x2=99 to sites:")

	clk.Tick()
	assert.Equal(t, "T1 commits", m.End("T1"))

	txn, ok := m.Transaction("T1")
	require.True(t, ok)
	assert.Equal(t, Committed, txn.Status)

	out, err := m.DumpVar("x2")
	require.NoError(t, err)
	assert.Contains(t, out, "site 1: 99")
}

func TestFirstCommitterWinsAbortsLoser(t *testing.T) {
	m, clk := newTestManager(t)

	clk.Tick()
	m.Begin("T1")
	clk.Tick()
	m.Begin("T2")

	clk.Tick()
	m.Write("T1", "x2", 1)
	clk.Tick()
	m.Write("T2", "x2", 2)

	clk.Tick()
	assert.Equal(t, "T1 commits", m.End("T1"))

	clk.Tick()
	assert.Equal(t, "T2 aborts", m.End("T2"))

	txn, _ := m.Transaction("T2")
	assert.Equal(t, FirstCommitterWins, txn.AbortCause)
}

func TestSiteFailureAbortsUnreplicatedWriter(t *testing.T) {
	m, clk := newTestManager(t)
	topo := topology.Default()
	home := topo.HomeSite(1)

	clk.Tick()
	m.Begin("T1")
	clk.Tick()
	m.Write("T1", "x1", 7)

	clk.Tick()
	_, err := m.Fail(home)
	require.NoError(t, err)

	clk.Tick()
	assert.Equal(t, "T1 aborts", m.End("T1"))

	txn, _ := m.Transaction("T1")
	assert.Equal(t, SiteFailedAfterWrite, txn.AbortCause)
}

func TestWaitingReadResumesOnRecovery(t *testing.T) {
	m, clk := newTestManager(t)
	topo := topology.Default()
	home := topo.HomeSite(1)

	clk.Tick()
	_, err := m.Fail(home)
	require.NoError(t, err)

	clk.Tick()
	m.Begin("T1")

	clk.Tick()
	out := m.Read("T1", "x1")
	assert.Contains(t, out, "waiting for x1")

	txn, _ := m.Transaction("T1")
	assert.Equal(t, Waiting, txn.Status)

	clk.Tick()
	_, err = m.Recover(home)
	require.NoError(t, err)

	txn, _ = m.Transaction("T1")
	assert.Equal(t, Active, txn.Status)
	v, ok := txn.ReadVar("x1")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestEndOnWaitingAborts(t *testing.T) {
	m, clk := newTestManager(t)
	topo := topology.Default()
	home := topo.HomeSite(1)

	clk.Tick()
	_, err := m.Fail(home)
	require.NoError(t, err)
	clk.Tick()
	m.Begin("T1")
	clk.Tick()
	m.Read("T1", "x1")

	clk.Tick()
	out := m.End("T1")
	assert.Equal(t, "T1 aborts (still waiting)", out)

	txn, _ := m.Transaction("T1")
	assert.Equal(t, WaitingAtEnd, txn.AbortCause)
}

func TestUnknownTransactionReportsError(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, "Error: Transaction T9 not found", m.Read("T9", "x1"))
	assert.Equal(t, "Error: Transaction T9 not found", m.End("T9"))
}

func TestSSIDangerousCycleAbortsLastToEnd(t *testing.T) {
	m, clk := newTestManager(t)

	clk.Tick()
	m.Begin("T1")
	clk.Tick()
	m.Begin("T2")

	// T1 reads x2 (sees 20), T2 reads x4 (sees 40): no conflict yet.
	clk.Tick()
	m.Read("T1", "x2")
	clk.Tick()
	m.Read("T2", "x4")

	// T2 writes x2: creates RW edge T1 -> T2 (T1 read what T2 now writes).
	clk.Tick()
	m.Write("T2", "x2", 99)

	// T1 writes x4: creates RW edge T2 -> T1 (T2 read what T1 now writes).
	clk.Tick()
	m.Write("T1", "x4", 99)

	clk.Tick()
	assert.Equal(t, "T2 commits", m.End("T2"))

	clk.Tick()
	out := m.End("T1")
	assert.Equal(t, "T1 aborts", out)

	txn, _ := m.Transaction("T1")
	assert.Equal(t, SSIDangerousCycle, txn.AbortCause)
}
