// Command courier delivers generated reports to Webex rooms and people.
package main

import (
	"fmt"
	"os"

	"github.com/stiffinWanjohi/courier/internal/logging"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logging.Init()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run", "start":
		err = cmdRun(args)
	case "migrate":
		err = cmdMigrate(args)
	case "enqueue", "send":
		err = cmdEnqueue(args)
	case "status", "health":
		err = cmdStatus(args)
	case "version", "-v", "--version":
		fmt.Printf("courier version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "  %s %v\n", fail("Error:"), err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`courier - Report delivery dispatcher

Usage:
  courier <command> [arguments]

Commands:
  run       Migrate the database and run the dispatcher until SIGINT/SIGTERM
  migrate   Apply (or roll back with --down N) database migrations
  enqueue   Insert a PENDING delivery job
  status    Query a running instance's health endpoint
  version   Show version information
  help      Show this help message

Environment Variables:
  DATABASE_URL     PostgreSQL connection string (required)
  REDIS_URL        Redis address or URL (default: localhost:6379)
  WEBEX_BOT_TOKEN  Bot token used to send messages (required for run)
  HEALTH_ADDR      Health server address (default: :8081)
  COURIER_CONFIG   Optional YAML file with defaults for any of the above

Examples:
  # Run the dispatcher
  courier run

  # Queue a markdown report for a room
  courier enqueue --room Y2lzY29zcGFyazovL3VzL1JPT00v --markdown '**Daily report** ready'

  # Queue an adaptive card for a person
  courier enqueue --email ops@example.com --card-file report.json

  # Roll back the last migration
  courier migrate --down 1
`)
}
