package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/markbook/internal/store"
)

func main() {
	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "markbook",
		Short: "Exam paper grading and wrong-question notebook",
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		exportCmd(),
		analyzeCmd(),
		retryCmd(),
		statusCmd(),
		resetCmd(),
		wrongQuestionsCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `markbook --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MARKBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("markbook")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/markbook")
	v.AddConfigPath("/etc/markbook")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Record store (sqlite, postgres, memory)")
	f.String("db", "markbook.db", "SQLite database path")
	f.String("db-dsn", "", "Postgres DSN when --db-driver=postgres")
}

func openStore(v *viper.Viper) (store.Backend, error) {
	switch driver := strings.ToLower(v.GetString("db-driver")); driver {
	case "", "sqlite":
		s, err := store.New(v.GetString("db"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		dsn := v.GetString("db-dsn")
		if dsn == "" {
			return nil, fmt.Errorf("--db-dsn is required for the postgres driver")
		}
		pg, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case "memory":
		slog.Warn("using the in-memory store, records are lost on exit")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}
