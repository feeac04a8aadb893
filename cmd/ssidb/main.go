// Command ssidb runs the Serializable Snapshot Isolation / Available
// Copies database: feed it a script of begin/R/W/end/fail/recover/dump
// commands, one per line, and it prints the exact protocol transcript
// spec.md §6 describes. Grounded on platform/cmd/cli/main.go's cobra root
// command and cuemby-warren/cmd/warren/main.go's Version/init wiring.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/avcopies/ssidb/internal/config"
	"github.com/avcopies/ssidb/internal/driver"
	"github.com/avcopies/ssidb/internal/logging"
	"github.com/avcopies/ssidb/internal/topology"
)

var (
	// Version is set via ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ssidb [file]",
	Short:   "Serializable Snapshot Isolation over Available Copies replication",
	Long:    "ssidb simulates a replicated database's concurrency control: Serializable\nSnapshot Isolation layered over the Available Copies protocol, driven by a\nscript of begin/R/W/end/fail/recover/dump commands.",
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ssidb version %s\n", Version))
}

func run(cmd *cobra.Command, args []string) error {
	settings := config.Defaults()
	if err := config.Load(&settings); err != nil {
		return err
	}

	logging.Init(settings)

	runID := uuid.NewString()
	log := logging.WithRun(runID)

	topo, err := topology.New(settings.SiteCount, settings.VarCount)
	if err != nil {
		return err
	}

	d := driver.New(topo, os.Stdout, log)

	if len(args) == 1 {
		if err := d.RunFile(args[0]); err != nil {
			log.Error().Err(err).Str("file", args[0]).Msg("batch run failed")
			os.Exit(2)
		}
		return nil
	}

	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return d.RunInteractive()
	}
	return d.RunStdin(os.Stdin)
}
