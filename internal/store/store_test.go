package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avcopies/ssidb/internal/topology"
)

func TestNewManagerSeedsInitialVersions(t *testing.T) {
	topo := topology.Default()
	m := NewManager(topo)

	// x2 is replicated: every site hosts it at value 20.
	for id := 1; id <= topo.SiteCount(); id++ {
		s, err := m.Site(id)
		require.NoError(t, err)
		v, ok := s.Latest("x2")
		require.True(t, ok)
		assert.Equal(t, 20, v.Value)
		assert.Equal(t, uint64(0), v.CommitTime)
	}

	// x1 is non-replicated: only its home site hosts it.
	home := topo.HomeSite(1)
	s, err := m.Site(home)
	require.NoError(t, err)
	v, ok := s.Latest("x1")
	require.True(t, ok)
	assert.Equal(t, 10, v.Value)
}

func TestFailRecoverClearsReplicatedReadability(t *testing.T) {
	topo := topology.Default()
	m := NewManager(topo)
	s, _ := m.Site(1)

	// x2 readable immediately after seeding.
	_, ok := s.SnapshotRead("x2", 0, 0)
	assert.True(t, ok)

	require.NoError(t, m.Fail(1, 5))
	require.NoError(t, m.Recover(1, 10))

	// Still unreadable until the next committed write at this site.
	_, ok = s.SnapshotRead("x2", 10, 10)
	assert.False(t, ok)

	require.NoError(t, s.ApplyCommit("x2", 99, 12, "T1"))
	v, ok := s.SnapshotRead("x2", 12, 12)
	require.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestNonReplicatedReadableAssoonAsUp(t *testing.T) {
	topo := topology.Default()
	m := NewManager(topo)
	home := topo.HomeSite(1)
	s, _ := m.Site(home)

	require.NoError(t, m.Fail(home, 3))
	require.NoError(t, m.Recover(home, 7))

	v, ok := s.SnapshotRead("x1", 7, 7)
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestSnapshotReadRequiresContinuousUptime(t *testing.T) {
	topo := topology.Default()
	m := NewManager(topo)
	s, _ := m.Site(1)
	require.NoError(t, s.ApplyCommit("x2", 42, 4, "T1"))

	// Site goes down and back up between the snapshot time and now.
	require.NoError(t, m.Fail(1, 6))
	require.NoError(t, m.Recover(1, 8))
	require.NoError(t, s.ApplyCommit("x2", 43, 9, "T2"))

	// Reading as of time 4 but serving at time 9 straddles the failure.
	_, ok := s.SnapshotRead("x2", 4, 9)
	assert.False(t, ok)

	// Reading as of time 9, serving at time 9: no failure in (9,9].
	v, ok := s.SnapshotRead("x2", 9, 9)
	require.True(t, ok)
	assert.Equal(t, 43, v)
}

func TestUpSitesHosting(t *testing.T) {
	topo := topology.Default()
	m := NewManager(topo)
	require.NoError(t, m.Fail(3, 1))

	up, err := m.UpSitesHosting("x2")
	require.NoError(t, err)
	assert.NotContains(t, up, 3)
	assert.Len(t, up, topo.SiteCount()-1)
}

func TestDumpFormat(t *testing.T) {
	topo, err := topology.New(2, 2)
	require.NoError(t, err)
	m := NewManager(topo)

	out, err := m.DumpSite(1)
	require.NoError(t, err)
	assert.Contains(t, out, "site 1 -")
	assert.Contains(t, out, "x2: 20")
}

func TestDumpSkipsSitesWithNoHostedVars(t *testing.T) {
	topo, err := topology.New(10, 1)
	require.NoError(t, err)
	m := NewManager(topo)

	home := topo.HomeSite(1)
	up, err := m.UpSitesHosting("x1")
	require.NoError(t, err)
	require.Len(t, up, 1)
	require.Equal(t, home, up[0])

	out := m.Dump()
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], fmt.Sprintf("site %d -", home))

	emptySite := home + 1
	if emptySite > topo.SiteCount() {
		emptySite = home - 1
	}
	line, err := m.DumpSite(emptySite)
	require.NoError(t, err)
	assert.Empty(t, line)
}
