// Command slacalc computes SLA due dates offline from a business calendar and
// a policy given on the command line. Unset flags fall back to the built-in
// calendar and policy set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultOptions()
	cmd := &cobra.Command{
		Use:          "slacalc",
		Short:        "Compute SLA response and resolution due dates",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.businessHoursSet = cmd.Flags().Changed("business-hours-only")
			return runCalc(cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.start, "start", "", "clock start, RFC3339 or 2006-01-02T15:04 in the calendar timezone (default now)")
	flags.StringVar(&opts.priority, "priority", opts.priority, "ticket priority: LOW, NORMAL, HIGH or EMERGENCY")
	flags.StringVar(&opts.nature, "nature", opts.nature, "attendance nature: standard or urgent")
	flags.StringVar(&opts.timezone, "tz", opts.timezone, "IANA timezone of the business calendar")
	flags.StringVar(&opts.workdayStart, "workday-start", opts.workdayStart, "start of the work window (HH:mm)")
	flags.StringVar(&opts.workdayEnd, "workday-end", opts.workdayEnd, "end of the work window (HH:mm)")
	flags.StringVar(&opts.weekdays, "weekdays", opts.weekdays, "business weekdays, 0=Sunday, comma separated")
	flags.StringArrayVar(&opts.holidays, "holiday", nil, "holiday date YYYY-MM-DD (repeatable)")
	flags.IntVar(&opts.responseMinutes, "response-minutes", 0, "response target in minutes (default from the built-in policy)")
	flags.IntVar(&opts.resolutionMinutes, "resolution-minutes", 0, "resolution target in minutes (default from the built-in policy)")
	flags.BoolVar(&opts.businessHoursOnly, "business-hours-only", true, "count only business minutes")
	return cmd
}
