package main

import (
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "scenario":
		if len(args) >= 3 {
			switch args[2] {
			case "run":
				return runScenario(args[3:])
			case "lint":
				return runScenarioLint(args[3:])
			}
		}
	case "audit":
		if len(args) >= 3 && args[2] == "verify" {
			return runAuditVerify(args[3:])
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "chimeractl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s scenario run --file <scenario.yaml> [--server <url>] [--mode STRICT|VULNERABLE_DEMO] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s scenario lint --file <scenario.yaml>\n", name)
	fmt.Fprintf(os.Stderr, "  %s audit verify --server <url> --session <session_id>\n", name)
}
