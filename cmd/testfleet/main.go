package main

import (
	"fmt"
	"os"
	"runtime"
)

var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 2
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "run":
		return runCommand(runRunCommand, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp()
		return 2
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printVersion() {
	fmt.Printf("testfleet %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

func printHelp() {
	fmt.Print(`testfleet runs one test suite across every captured browser.

Usage:
  testfleet serve [-config path] [-log-level level] [-bind addr]
  testfleet run [-server url] [-manifest path] [-filter names] [-timeout d] [-watch]
  testfleet version

Configuration is read from ~/.testfleet/config.yaml and ./.testfleet/config.yaml
unless -config is given; TESTFLEET_* environment variables override both.
`)
}
