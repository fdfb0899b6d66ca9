package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/banshee-data/groundlink/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	command := "run"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		handleRun(args)
	case "sessions":
		handleSessions(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`groundlink - ground station link to a MAVLink flight controller

Usage: groundlink [command] [options]

Commands:
  run        Connect to the vehicle and serve the debug UI (default)
  sessions   List recorded sessions from the catalog or the sessions directory
  migrate    Show or apply catalog schema migrations
  version    Show the build version
  help       Show this help message

Run "groundlink <command> -h" for the options of a command.`)
}
