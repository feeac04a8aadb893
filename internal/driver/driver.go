// Package driver dispatches parsed commands to the Transaction Manager and
// writes the protocol transcript spec.md §6 mandates to stdout. Grounded
// on original_source/main.py's process_line (tick-then-dispatch, one line
// at a time) and, for the dispatch switch's shape, on docdb's
// cmd/docdbsh/shell.Shell.Execute.
package driver

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/avcopies/ssidb/internal/cliparser"
	"github.com/avcopies/ssidb/internal/clock"
	"github.com/avcopies/ssidb/internal/logging"
	"github.com/avcopies/ssidb/internal/topology"
	"github.com/avcopies/ssidb/internal/txn"
)

// Driver owns the clock, the Transaction Manager, and where output goes.
// One Driver corresponds to one run of the system, start to end of input.
type Driver struct {
	clock *clock.Clock
	mgr   *txn.Manager
	out   io.Writer
	log   zerolog.Logger
}

// New builds a Driver over a fresh topology and writes protocol output to
// out.
func New(topo topology.Topology, out io.Writer, log zerolog.Logger) *Driver {
	clk := clock.New()
	return &Driver{
		clock: clk,
		mgr:   txn.New(topo, clk, log),
		out:   out,
		log:   log,
	}
}

// RunFile executes every line of the file at path, batch mode (spec.md
// §6). Exit code 2 is the caller's responsibility when the file cannot be
// opened, since no tick is consumed for a failed open.
func (d *Driver) RunFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("driver: cannot open %s: %w", path, err)
	}
	defer f.Close()
	return d.run(bufio.NewScanner(f))
}

// RunStdin executes piped stdin, non-interactively: every line read and
// dispatched with no prompts, matching the batch-mode contract.
func (d *Driver) RunStdin(in io.Reader) error {
	return d.run(bufio.NewScanner(in))
}

func (d *Driver) run(scanner *bufio.Scanner) error {
	for scanner.Scan() {
		d.processLine(scanner.Text())
	}
	return scanner.Err()
}

// RunInteractive drives a liner-backed REPL: a prompt per line, history,
// and line editing. Grounded on docdb's shell driver, which keeps its own
// line-edited prompt loop in front of the same dispatch core a batch run
// uses.
func (d *Driver) RunInteractive() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		text, err := line.Prompt("ssidb> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("driver: reading input: %w", err)
		}
		line.AppendHistory(text)
		d.processLine(text)
	}
}

// processLine ticks the clock once — even for a blank or comment line,
// per spec.md §5 — then parses and dispatches.
func (d *Driver) processLine(raw string) {
	d.clock.Tick()
	cmd := cliparser.Parse(raw)

	switch cmd.Kind {
	case cliparser.Empty, cliparser.Comment:
		return
	case cliparser.Begin:
		d.println(d.mgr.Begin(cmd.TxnID))
	case cliparser.Read:
		if line := d.mgr.Read(cmd.TxnID, cmd.Var); line != "" {
			d.println(line)
		}
	case cliparser.Write:
		if line := d.mgr.Write(cmd.TxnID, cmd.Var, cmd.Value); line != "" {
			d.println(line)
		}
	case cliparser.End:
		d.println(d.mgr.End(cmd.TxnID))
	case cliparser.Fail:
		line, err := d.mgr.Fail(cmd.SiteID)
		if err != nil {
			d.log.Warn().Err(err).Int("site_id", cmd.SiteID).Msg("fail: unknown site")
			return
		}
		d.println(line)
	case cliparser.Recover:
		line, err := d.mgr.Recover(cmd.SiteID)
		if err != nil {
			d.log.Warn().Err(err).Int("site_id", cmd.SiteID).Msg("recover: unknown site")
			return
		}
		d.println(line)
	case cliparser.Dump:
		d.println(d.mgr.Dump())
	case cliparser.QueryState:
		d.println(d.mgr.QueryState())
	case cliparser.Unrecognized:
		d.log.Debug().Str("line", cmd.Raw).Msg("unrecognized command, ignoring")
	}
}

func (d *Driver) println(s string) {
	fmt.Fprintln(d.out, s)
	d.log.Debug().Str("output", s).Msg("dispatch")
}

// logging is imported to wire run-scoped child loggers from cmd/ssidb;
// RunLogger exposes that wiring point for callers that only hold a
// component logger and need to name it explicitly.
func RunLogger(runID string) zerolog.Logger {
	return logging.WithRun(runID)
}
