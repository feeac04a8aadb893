package store

import (
	"fmt"

	"github.com/avcopies/ssidb/internal/topology"
)

// failureInterval records one down period for a site: [FailTime, RecoverTime).
// RecoverTime is nil while the site is still down — an open interval,
// mirroring original_source's FailureRecord with an Optional end time.
type failureInterval struct {
	failTime    uint64
	recoverTime *uint64
}

// variableState is one variable's state at one site: its version chain plus
// the replicated-variable readability flag spec.md §4.1 describes ("cleared
// on recovery, set back on the next committed write at this site").
type variableState struct {
	chain    versionChain
	readable bool
}

// Site is the Data Manager for one site: the variables it hosts, its
// current up/down status, and its full failure history. Grounded on
// original_source/src/site_manager.py's Site class, restructured around the
// teacher's mvcc.VersionManager pattern of one chain per key.
type Site struct {
	id       int
	topo     topology.Topology
	up       bool
	vars     map[string]*variableState
	failures []failureInterval
}

// NewSite constructs a site at logical time 0, hosting the variables given
// to it by a SiteManager, each seeded with its spec-mandated initial
// version (spec.md §3: 10*i at time 0, writer "init").
func NewSite(id int, topo topology.Topology, hosted []int) *Site {
	s := &Site{
		id:   id,
		topo: topo,
		up:   true,
		vars: make(map[string]*variableState, len(hosted)),
	}
	for _, i := range hosted {
		name := topology.VarName(i)
		s.vars[name] = &variableState{
			chain: versionChain{versions: []Version{{
				Value:      topology.InitialValue(i),
				CommitTime: 0,
				Writer:     topology.InitWriter,
			}}},
			readable: true,
		}
	}
	return s
}

// ID returns the site's identifier.
func (s *Site) ID() int { return s.id }

// Up reports whether the site is currently up.
func (s *Site) Up() bool { return s.up }

// Has reports whether this site hosts variable name.
func (s *Site) Has(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// FailedAfter reports whether this site has failed at any point strictly
// after t — used by the end-of-transaction check (spec.md §4.3.7): a
// transaction that wrote to a site which later failed must abort, even if
// that site has since recovered.
func (s *Site) FailedAfter(t uint64) bool {
	for _, f := range s.failures {
		if f.failTime > t {
			return true
		}
	}
	return false
}

// Fail marks the site down at logical time t, opening a new failure
// interval. Calling Fail on an already-down site is a no-op: spec.md §6
// only ever dispatches one fail per site per instant, but guarding here
// keeps the failure history well-formed regardless.
func (s *Site) Fail(t uint64) {
	if !s.up {
		return
	}
	s.up = false
	s.failures = append(s.failures, failureInterval{failTime: t})
}

// Recover marks the site up at logical time t, closing the open failure
// interval, and clears every replicated variable's readability flag —
// spec.md §4.1: "on recovery, a replicated variable is unreadable until
// this site commits a write to it again." Non-replicated variables are
// always readable once the site is up, since Available Copies never needs
// a continuous-uptime check for them.
func (s *Site) Recover(t uint64) {
	if s.up {
		return
	}
	s.up = true
	if n := len(s.failures); n > 0 && s.failures[n-1].recoverTime == nil {
		rt := t
		s.failures[n-1].recoverTime = &rt
	}
	for name, vs := range s.vars {
		i, _ := topology.VarIndex(name)
		if s.topo.IsReplicated(i) {
			vs.readable = false
		}
	}
}

// upContinuously reports whether the site was up for the entire half-open
// interval [from, to) — spec.md §4.1's continuous-uptime check, gating
// whether a replicated variable's version committed at `from` is still
// valid to serve a read at `to`. Grounded on
// original_source/src/site_manager.py's was_up_continuously: false if a
// failure started strictly inside (from, to), or if the site was already
// down at (or before) `from` and hadn't yet recovered by `from`.
func (s *Site) upContinuously(from, to uint64) bool {
	for _, f := range s.failures {
		if f.failTime > from && f.failTime < to {
			return false
		}
		if f.failTime <= from {
			if f.recoverTime == nil || *f.recoverTime > from {
				return false
			}
		}
	}
	return true
}

// lastRecoveryTime returns the most recent recovery instant, or 0 if the
// site has never recovered from a failure.
func (s *Site) lastRecoveryTime() uint64 {
	if n := len(s.failures); n > 0 {
		if rt := s.failures[n-1].recoverTime; rt != nil {
			return *rt
		}
	}
	return 0
}

// SnapshotRead returns the value of variable name visible as of logical
// time asOf, together with whether it may be served at logical time now
// (the reading transaction's perspective — in practice always equal to
// asOf, since a transaction's view never moves past its own start time).
// Grounded on original_source/src/site_manager.py's can_read_variable:
//   - non-replicated variables are readable whenever a version exists at
//     or before asOf and the site is up, with no continuity requirement;
//   - replicated variables additionally require the readability flag (once
//     the reader's perspective is itself past the last recovery) and
//     continuous uptime from the visible version's commit time through now.
func (s *Site) SnapshotRead(name string, asOf, now uint64) (value int, ok bool) {
	if !s.up {
		return 0, false
	}
	vs, present := s.vars[name]
	if !present {
		return 0, false
	}
	i, _ := topology.VarIndex(name)
	if !s.topo.IsReplicated(i) {
		v, found := vs.chain.at(asOf)
		if !found {
			return 0, false
		}
		return v.Value, true
	}

	if lastRecovery := s.lastRecoveryTime(); lastRecovery > 0 && now >= lastRecovery && !vs.readable {
		return 0, false
	}

	v, found := vs.chain.at(asOf)
	if !found {
		return 0, false
	}
	if !s.upContinuously(v.CommitTime, now) {
		return 0, false
	}
	return v.Value, true
}

// HasValidSnapshot reports whether this site — up or down — holds a
// version of name that was continuously available from its commit time
// through asOf. Used for the fallback check before aborting a read for
// lack of any valid replica (spec.md §4.3.3): the data may merely be
// unreachable right now rather than genuinely lost to a badly timed
// failure.
func (s *Site) HasValidSnapshot(name string, asOf uint64) bool {
	vs, present := s.vars[name]
	if !present {
		return false
	}
	v, found := vs.chain.at(asOf)
	if !found {
		return false
	}
	return s.upContinuously(v.CommitTime, asOf)
}

// ApplyCommit records a newly committed version of name at this site and,
// for replicated variables, sets the readability flag back on — spec.md
// §4.1: "readability is restored by the next committed write after
// recovery."
func (s *Site) ApplyCommit(name string, value int, commitTime uint64, writer string) error {
	vs, present := s.vars[name]
	if !present {
		return fmt.Errorf("store: site %d does not host %s", s.id, name)
	}
	vs.chain.prepend(Version{Value: value, CommitTime: commitTime, Writer: writer})
	vs.readable = true
	return nil
}

// Latest returns the most recently committed version of name at this site,
// regardless of readability — used by dump (spec.md §4.3.9), which always
// shows the last committed value.
func (s *Site) Latest(name string) (Version, bool) {
	vs, present := s.vars[name]
	if !present {
		return Version{}, false
	}
	return vs.chain.latest()
}

// HostedVars returns the names of every variable this site hosts, in a
// stable order (ascending variable index).
func (s *Site) HostedVars() []string {
	names := make([]string, 0, len(s.vars))
	for name := range s.vars {
		names = append(names, name)
	}
	sortVarNames(names)
	return names
}

func sortVarNames(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0; j-- {
			a, _ := topology.VarIndex(names[j-1])
			b, _ := topology.VarIndex(names[j])
			if a <= b {
				break
			}
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}
