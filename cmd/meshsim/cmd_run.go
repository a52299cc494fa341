package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"causalmesh/pkg/sim"
)

func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	verbose := flags.Bool("verbose", false, "debug logging to stderr")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	path := flags.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "meshsim: run: missing scenario file")
		return 1
	}

	sc, err := sim.LoadScenario(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshsim: run: %v\n", err)
		return 1
	}

	rep, err := sim.Run(sc, sim.Config{
		DurablePath: a.dbPath,
		Logger:      buildLogger(*verbose),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshsim: run: %v\n", err)
		if errors.Is(err, sim.ErrNotConverged) {
			return 2
		}
		return 1
	}

	if *jsonOut {
		printJSON(rep)
	} else {
		printReport(rep)
	}
	return 0
}

func printReport(rep *sim.Report) {
	fmt.Printf("scenario: %s\n", rep.Name)
	fmt.Printf("converged: %v\n", rep.Converged)
	for _, n := range rep.Nodes {
		fmt.Printf("  %-12s events=%-4d conflicts=%-3d state=%s\n",
			n.ID, n.Events, n.Conflicts, n.State)
	}
	for _, c := range rep.Conflicts {
		for _, r := range c.Records {
			fmt.Printf("  conflict on %s at %s: %s vs %s -> winner %s\n",
				r.Incumbent.TargetID, c.Node,
				r.Incumbent.Origin, r.Challenger.Origin, r.WinnerID)
		}
	}
}
