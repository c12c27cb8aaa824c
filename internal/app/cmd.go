package app

// Command selects the process mode.
type Command string

const (
	CommandServe   Command = "serve"
	CommandMigrate Command = "migrate"
	// CommandRollback reverts the most recent migration.
	CommandRollback Command = "rollback"
	// CommandHealthcheck probes a running server; used by container health checks.
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand reads the subcommand from os.Args[1:]. Unknown or missing
// subcommands mean serve.
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandMigrate:
		return CommandMigrate
	case CommandRollback:
		return CommandRollback
	case CommandHealthcheck:
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
