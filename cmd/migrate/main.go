package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/logger"
)

// migrateLogger adapts zerolog to migrate.Logger.
type migrateLogger struct {
	log     zerolog.Logger
	verbose bool
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool { return l.verbose }

func main() {
	var (
		migrationDir string
		verbose      bool
	)
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.BoolVar(&verbose, "v", false, "Log every applied migration")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat).With().Str("component", "migrate").Logger()

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; attempt history is disabled and there is nothing to migrate")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}

	m, err := migrate.New("file://"+migrationDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("path", migrationDir).Msg("Migration failed to initialize")
	}
	m.Log = migrateLogger{log: log, verbose: verbose}
	defer m.Close()

	switch cmd := args[0]; cmd {
	case "up":
		check(log, cmd, m.Up())
	case "down":
		check(log, cmd, m.Down())
	case "steps":
		n := intArg(log, args, "steps requires a signed count, e.g. steps -1")
		check(log, cmd, m.Steps(n))
	case "force":
		v := intArg(log, args, "force requires a version argument")
		check(log, cmd, m.Force(v))
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			log.Info().Msg("No migration applied yet")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Version failed")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Schema version")
	default:
		printUsage()
		os.Exit(2)
	}
}

func check(log zerolog.Logger, cmd string, err error) {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Str("command", cmd).Msg("Schema already up to date")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Migration failed")
	}
	log.Info().Str("command", cmd).Msg("Migration applied")
}

func intArg(log zerolog.Logger, args []string, usage string) int {
	if len(args) < 2 {
		log.Fatal().Msg(usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		log.Fatal().Err(err).Msg(usage)
	}
	return n
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, steps <n>, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
