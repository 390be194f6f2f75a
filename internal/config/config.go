// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON config file and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the HTTP API listening address (ip:port).
	Addr string `json:"addr"`

	// DatabaseDSN is the Postgres connection string of the lifecycle
	// journal. Empty disables the journal.
	DatabaseDSN string `json:"database_dsn"`

	// ProjectID is the Google Cloud project hosting Firestore.
	ProjectID string `json:"project_id"`

	// DatabaseID selects a named Firestore database.
	DatabaseID string `json:"database_id"`

	// CredentialsFile is a service account JSON file. Empty uses
	// application default credentials.
	CredentialsFile string `json:"credentials_file"`

	// Collections are subscribed at startup.
	Collections []string `json:"collections"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// JournalRetention is how long journal rows are kept.
	JournalRetention time.Duration `json:"-"`

	// Config is the path to the config file.
	Config string `json:"-"`
}

// fileOptions mirrors Options for the JSON file, where durations are strings.
type fileOptions struct {
	*Options
	JournalRetention string `json:"journal_retention"`
}

// Parse parses os.Args and the environment. It exits the process on error.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

// ParseArgs builds Options from defaults, then the config file, then
// flags, then environment variables; later sources win.
func ParseArgs(args []string, getenv func(string) string) (*Options, error) {
	opts := &Options{}
	var collections string

	fs := flag.NewFlagSet("firewatch", flag.ContinueOnError)
	fs.StringVar(&opts.Addr, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&opts.DatabaseDSN, "d", "", "journal database address")
	fs.StringVar(&opts.ProjectID, "p", "", "firestore project id")
	fs.StringVar(&opts.DatabaseID, "db", "(default)", "firestore database id")
	fs.StringVar(&opts.CredentialsFile, "creds", "", "service account credentials file")
	fs.StringVar(&collections, "collections", "", "comma separated collections to subscribe at startup")
	fs.StringVar(&opts.LogLevel, "l", "info", "log level")
	fs.StringVar(&opts.TLSCert, "tls-cert", "", "TLS certificate file")
	fs.StringVar(&opts.TLSKey, "tls-key", "", "TLS key file")
	fs.DurationVar(&opts.JournalRetention, "retention", 7*24*time.Hour, "journal retention")
	fs.StringVar(&opts.Config, "config", "config.json", "path to config file")
	fs.StringVar(&opts.Config, "c", "config.json", "path to config file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if configPath := getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}

	// The file only fills what the command line left at its default.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if opts.Config != "" {
		if err := applyFile(opts, opts.Config, set); err != nil {
			return nil, err
		}
	}

	if set["collections"] {
		opts.Collections = splitList(collections)
	}

	applyEnv(opts, getenv)

	if opts.JournalRetention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	return opts, nil
}

func applyFile(opts *Options, path string, set map[string]bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}

	fromFile := *opts
	fo := fileOptions{Options: &fromFile}
	if err := json.Unmarshal(data, &fo); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	if fo.JournalRetention != "" {
		d, err := time.ParseDuration(fo.JournalRetention)
		if err != nil {
			return fmt.Errorf("error while parsing config file: journal_retention: %w", err)
		}
		fromFile.JournalRetention = d
	}

	pick := func(flagName string, dst *string, v string) {
		if !set[flagName] {
			*dst = v
		}
	}
	pick("a", &opts.Addr, fromFile.Addr)
	pick("d", &opts.DatabaseDSN, fromFile.DatabaseDSN)
	pick("p", &opts.ProjectID, fromFile.ProjectID)
	pick("db", &opts.DatabaseID, fromFile.DatabaseID)
	pick("creds", &opts.CredentialsFile, fromFile.CredentialsFile)
	pick("l", &opts.LogLevel, fromFile.LogLevel)
	pick("tls-cert", &opts.TLSCert, fromFile.TLSCert)
	pick("tls-key", &opts.TLSKey, fromFile.TLSKey)
	if !set["retention"] {
		opts.JournalRetention = fromFile.JournalRetention
	}
	opts.Collections = fromFile.Collections
	return nil
}

func applyEnv(opts *Options, getenv func(string) string) {
	if v := getenv("SERVER_ADDRESS"); v != "" {
		opts.Addr = v
	}
	if v := getenv("DATABASE_DSN"); v != "" {
		opts.DatabaseDSN = v
	}
	if v := getenv("FIRESTORE_PROJECT_ID"); v != "" {
		opts.ProjectID = v
	}
	if v := getenv("FIRESTORE_DATABASE_ID"); v != "" {
		opts.DatabaseID = v
	}
	if v := getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		opts.CredentialsFile = v
	}
	if v := getenv("FIREWATCH_COLLECTIONS"); v != "" {
		opts.Collections = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		opts.LogLevel = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
