package main

import (
	"flag"
	"fmt"
	"os"

	"causalmesh/pkg/store"
)

func (a *app) cmdLog(args []string) int {
	flags := flag.NewFlagSet("log", flag.ContinueOnError)
	nodeID := flags.String("node", "", "show only this node's history")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if a.dbPath == "" {
		fmt.Fprintln(os.Stderr, "meshsim: log: set MESHSIM_DB to a history file")
		return 1
	}

	log, err := store.OpenDurable(a.dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshsim: log: %v\n", err)
		return 1
	}
	defer log.Close()

	nodes := []string{*nodeID}
	if *nodeID == "" {
		nodes, err = log.ListNodes()
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshsim: log: %v\n", err)
			return 1
		}
	}

	if *jsonOut {
		out := make(map[string]interface{}, len(nodes))
		for _, id := range nodes {
			events, err := log.LoadHistory(id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "meshsim: log: %v\n", err)
				return 1
			}
			out[id] = events
		}
		printJSON(out)
		return 0
	}

	for _, id := range nodes {
		events, err := log.LoadHistory(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meshsim: log: %v\n", err)
			return 1
		}
		fmt.Printf("%s (%d events)\n", id, len(events))
		for _, e := range events {
			fmt.Printf("  [lt=%d] %s %s %s by %s\n",
				e.LogicalTime, e.ID, e.Op, e.TargetID, e.Origin)
		}
	}
	return 0
}
