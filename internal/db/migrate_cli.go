package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. It opens the
// database without applying migrations so each action is explicit.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ All migrations applied successfully")

	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Rolled back one migration")

	case "status":
		version, dirty, err := database.MigrateVersion()
		if err != nil {
			return err
		}
		latest, err := LatestMigrationVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "current version: %d\nlatest version:  %d\ndirty:           %t\n", version, latest, dirty)
		if version < latest {
			fmt.Fprintf(out, "%d migration(s) pending\n", latest-version)
		}

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: exitguide migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Forced version %d\n", v)

	case "help":
		PrintMigrateHelp(out)

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: exitguide migrate <action> [args]

Actions:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show current and latest schema versions
  force <version> Set the version without running migrations (repair only)
  help            Show this message
`)
}
