package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pgsentry/internal/health"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [service...]",
	Short: "Verify dependent services can reach the database, remediating if needed",
	Long: `Checks each monitored service's database connectivity. An unreachable
service is remediated in escalating cycles: first the unit is started, then
its connection settings are rewritten, finally its credentials are rotated.
A service still unreachable after the cycle budget is reported as degraded;
this is a warning, not a failure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		targets := a.cfg.Services
		if len(args) > 0 {
			targets = nil
			for _, name := range args {
				svc, ok := a.cfg.ServiceByName(name)
				if !ok {
					return fmt.Errorf("unknown service %q", name)
				}
				targets = append(targets, svc)
			}
		}
		if len(targets) == 0 {
			printer.Plainf("No services configured for verification")
			return nil
		}

		verifier := health.NewVerifier(a.control, a.creds, a.prober, a.cfg.Connection, a.cfg.Verify, a.logger)
		reports := verifier.VerifyAll(cmd.Context(), targets)

		for _, r := range reports {
			printReport(r)
		}
		return nil
	},
}

func printReport(r health.Report) {
	switch r.State {
	case health.StateReachable:
		printer.Successf("%s: reachable (%d cycle(s))", r.Service, r.Cycles)
	case health.StateDegraded:
		printer.Warnf("%s: degraded after %d cycle(s): %v", r.Service, r.Cycles, r.Err)
	default:
		printer.Warnf("%s: %s: %v", r.Service, r.State, r.Err)
	}
	for _, action := range r.Remediations {
		printer.Plainf("  applied: %s", action)
	}
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
