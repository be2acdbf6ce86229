// cmd/schedctl/main.go — CLI root. Dispatches to subcommand handlers.
package main

import (
	"fmt"
	"os"
)

const usage = "Usage: schedctl <config|set-config|schedule|cancel|status|history> [options]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "config":
		runConfig(os.Args[2:])
	case "set-config":
		runSetConfig(os.Args[2:])
	case "schedule":
		runSchedule(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}
