package shared

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

type Flags struct {
	LogFormat  *string // see logger.go
	Database   *string // see root.go
	Dialect    *string // see root.go
	Migrations *string // see root.go
	Models     *string // see root.go
	TableName  *string // see root.go
	ConfigFile *string // see root.go
}

type Config struct {
	Database   string    `yaml:"database"`
	Dialect    string    `yaml:"dialect"`
	Migrations string    `yaml:"migrations"`
	Models     string    `yaml:"models"`
	LogFormat  LogFormat `yaml:"log_format"`
	TableName  string    `yaml:"table_name"`
	// PruneUnmanaged makes generated migrations drop every table that no
	// model maps to.
	PruneUnmanaged bool `yaml:"prune_unmanaged"`
}

type StateT struct {
	Flags  Flags
	Config Config
}

var State StateT //nolint:gochecknoglobals

func (state *StateT) Parse() {
	cf := state.Configfile()
	if !cf.IsSet() {
		return
	}
	file, err := os.Open(cf.Value())
	if err != nil {
		panic(fmt.Errorf("open config: %w", err))
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		panic(fmt.Errorf("read config: %w", err))
	}
	if err := yaml.Unmarshal(contents, &state.Config); err != nil {
		panic(fmt.Errorf("parse config: %w", err))
	}
}

func (state StateT) Configfile() Variable[string] {
	return NewVariable(
		"configfile",
		*state.Flags.ConfigFile,
		os.Getenv("MMG_CONFIGFILE"),
		CheckPath(".modelmigrate.yaml"), // in cwd
		RepoPath(".modelmigrate.yaml"),  // in repo root
		"",                              // default to missing
	)
}

func (state StateT) Database() Variable[string] {
	return NewVariable(
		"database",
		*state.Flags.Database,
		os.Getenv("MMG_DATABASE"),
		state.Config.Database,
		"", // default to missing
	)
}

// Dialect falls back to guessing the engine from the database connection
// string.
func (state StateT) Dialect() Variable[string] {
	return NewVariable(
		"dialect",
		*state.Flags.Dialect,
		os.Getenv("MMG_DIALECT"),
		state.Config.Dialect,
		InferDialect(state.Database().Value()),
		"", // default to missing
	)
}

func (state StateT) LogFormat() Variable[LogFormat] {
	return NewVariable(
		"log-format",
		LogFormat(*state.Flags.LogFormat),
		LogFormat(os.Getenv("MMG_LOG_FORMAT")),
		state.Config.LogFormat,
		LogFormatText, // default
	)
}

func (state StateT) Migrations() Variable[string] {
	return NewVariable(
		"migrations",
		*state.Flags.Migrations,
		os.Getenv("MMG_MIGRATIONS"),
		state.Config.Migrations,
		"", // default to missing
	)
}

func (state StateT) Models() Variable[string] {
	return NewVariable(
		"models",
		*state.Flags.Models,
		os.Getenv("MMG_MODELS"),
		state.Config.Models,
		"", // default to missing
	)
}

// TableName is empty when unset, meaning the dialect's default table.
func (state StateT) TableName() Variable[string] {
	return NewVariable(
		"table-name",
		*state.Flags.TableName,
		os.Getenv("MMG_TABLENAME"),
		state.Config.TableName,
		"", // default to the dialect's
	)
}

func (state StateT) Logger() (*log.Logger, LogAdapter) {
	var logger *log.Logger
	format := state.LogFormat().Value()
	switch format {
	case LogFormatText:
		logger = log.NewWithOptions(os.Stdout, log.Options{Formatter: log.TextFormatter})
	case LogFormatJSON:
		logger = log.NewWithOptions(os.Stdout, log.Options{Formatter: log.JSONFormatter})
	default:
		panic(fmt.Errorf("unknown log format: %s", format))
	}
	return logger, LogAdapter{logger}
}

func RepoPath(p string) string {
	root, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return ""
	}
	rootConfig := path.Join(strings.TrimSpace(string(root)), p)
	return CheckPath(rootConfig)
}

func CheckPath(p string) string {
	p, err := filepath.Abs(p)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// CLIHelp trims the indentation-friendly blank lines around a help text.
func CLIHelp(s string) string {
	return strings.TrimSpace(s)
}

// CLIExample indents every line of an example block.
func CLIExample(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "  " + line
		}
	}
	return strings.Join(lines, "\n")
}
