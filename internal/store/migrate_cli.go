package store

import (
	"fmt"
	"io"
	"io/fs"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("migrate: missing action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(w)
		return nil
	}

	// The schema is left alone until the action runs.
	s, err := OpenNoMigrate(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer s.Close()
	migrations := Migrations()

	switch action {
	case "up":
		if err := s.MigrateUp(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
	case "down":
		if err := s.MigrateDown(migrations); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
	case "status":
		return printStatus(w, s, migrations)
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: agres migrate %s <version_number>", action)
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if action == "force" {
			err = s.MigrateForce(migrations, int(v))
		} else {
			err = s.MigrateTo(migrations, uint(v))
		}
		if err != nil {
			return err
		}
	default:
		fmt.Fprintf(w, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, dirty, err := s.MigrateVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func printStatus(w io.Writer, s *Store, migrations fs.FS) error {
	version, dirty, err := s.MigrateVersion(migrations)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(migrations)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "=== Migration Status ===")
	fmt.Fprintf(w, "Current version: %d\n", version)
	fmt.Fprintf(w, "Latest available: %d\n", latest)
	fmt.Fprintf(w, "Dirty: %v\n", dirty)
	switch {
	case dirty:
		fmt.Fprintln(w, "Database is in a dirty state. Inspect it, then run: agres migrate force <version>")
	case version < latest:
		fmt.Fprintf(w, "Database is %d version(s) behind. Run 'agres migrate up' to update.\n", latest-version)
	default:
		fmt.Fprintln(w, "Database is up to date")
	}
	return nil
}

// PrintMigrateHelp writes the usage of the migrate command.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: agres migrate <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  up              Apply all pending migrations")
	fmt.Fprintln(w, "  down            Roll back one migration")
	fmt.Fprintln(w, "  status          Show current and latest version")
	fmt.Fprintln(w, "  version <N>     Migrate to version N")
	fmt.Fprintln(w, "  force <N>       Force the version to N (recovery only)")
	fmt.Fprintln(w, "  help            Show this help message")
}
