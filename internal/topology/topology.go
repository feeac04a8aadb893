// Package topology describes the fixed, permanent placement of variables
// across sites, as spelled out in spec.md §3. It is pure and stateless —
// every function here is a deterministic computation over the site/variable
// counts, shared by internal/store (which owns the actual per-site state)
// and internal/txn (which routes reads and writes through it).
package topology

import "fmt"

// Default site and variable counts (spec.md §3: S=10, N=20).
const (
	DefaultSiteCount = 10
	DefaultVarCount  = 20
)

// Topology holds the site/variable counts a system instance was configured
// with. The zero value is invalid; use New or Default.
type Topology struct {
	sites int
	vars  int
}

// Default returns the canonical 10-site, 20-variable topology.
func Default() Topology {
	t, err := New(DefaultSiteCount, DefaultVarCount)
	if err != nil {
		panic(err)
	}
	return t
}

// New validates and returns a topology with the given site and variable
// counts. Both must be positive.
func New(siteCount, varCount int) (Topology, error) {
	if siteCount <= 0 {
		return Topology{}, fmt.Errorf("topology: site count must be positive, got %d", siteCount)
	}
	if varCount <= 0 {
		return Topology{}, fmt.Errorf("topology: variable count must be positive, got %d", varCount)
	}
	return Topology{sites: siteCount, vars: varCount}, nil
}

// SiteCount returns the number of sites (S).
func (t Topology) SiteCount() int { return t.sites }

// VarCount returns the number of variables (N).
func (t Topology) VarCount() int { return t.vars }

// VarName returns the canonical name of variable index i (1-based), "xi".
func VarName(i int) string {
	return fmt.Sprintf("x%d", i)
}

// VarIndex parses the integer suffix out of a variable name, e.g. "x12" -> 12.
// Returns false if name isn't of the form "x<digits>".
func VarIndex(name string) (int, bool) {
	if len(name) < 2 || (name[0] != 'x' && name[0] != 'X') {
		return 0, false
	}
	n := 0
	for _, r := range name[1:] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, false
	}
	return n, true
}

// IsReplicated reports whether variable index i is replicated (even i) or
// non-replicated (odd i), per spec.md §3.
func (t Topology) IsReplicated(i int) bool {
	return i%2 == 0
}

// HomeSite returns the single hosting site for a non-replicated variable
// index i: 1 + (i mod S). Only meaningful when !IsReplicated(i).
func (t Topology) HomeSite(i int) int {
	return 1 + (i % t.sites)
}

// SitesHosting returns, in ascending site-id order, every site that hosts
// variable index i: all sites if replicated, or the single home site
// otherwise.
func (t Topology) SitesHosting(i int) []int {
	if t.IsReplicated(i) {
		sites := make([]int, t.sites)
		for s := 1; s <= t.sites; s++ {
			sites[s-1] = s
		}
		return sites
	}
	return []int{t.HomeSite(i)}
}

// InitialValue returns the value a fresh variable index i is seeded with:
// 10*i, committed at logical time 0 by writer "init".
func InitialValue(i int) int {
	return 10 * i
}

// InitWriter is the writer identity recorded for every variable's initial,
// time-0 version.
const InitWriter = "init"
