package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "time/tzdata"

	"f1sync/internal/config"
	"f1sync/internal/export"
	appLog "f1sync/internal/log"
	"f1sync/internal/model"
	"f1sync/internal/schedule"
)

const version = "0.1.0"

type rootFlags struct {
	configPath string
	source     string
	logLevel   string

	cfg *config.Config
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usage(msg string) error { return &usageError{msg: msg} }

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, "usage:", ue.msg)
			os.Exit(2)
		}
		appLog.Error("f1sync failed", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	appLog.SetOutput(stderr)
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "f1sync",
		Short:         "Export and sync the F1 race calendar",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return flags.load()
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "f1sync.yaml", "Path to config file (created with defaults if missing)")
	cmd.PersistentFlags().StringVar(&flags.source, "source", "", "Schedule source: file path or URL (overrides config)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides config)")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newExportCmd(flags))
	cmd.AddCommand(newLinkCmd(flags))
	cmd.AddCommand(newSyncCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	return cmd
}

// load reads .env, the config file and flag overrides.
func (f *rootFlags) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("can't read .env", "err", err)
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", f.configPath, err)
	}
	if f.source != "" {
		cfg.Schedule.Source = f.source
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Debug("effective config",
		"config_path", f.configPath,
		"listen", cfg.Listen,
		"season", cfg.Season,
		"schedule_source", cfg.Schedule.Source,
		"refresh", cfg.Schedule.Refresh,
		"duration_minutes", cfg.Export.DurationMinutes,
		"calendar_id", cfg.Google.CalendarID,
		"client_id_set", cfg.Google.ClientID != "",
	)
	f.cfg = cfg
	return nil
}

func (f *rootFlags) exporter() *export.Exporter {
	return export.New(f.cfg.Export.DurationMinutes, f.cfg.Season)
}

func (f *rootFlags) loadSchedule(ctx context.Context) ([]model.Event, error) {
	return schedule.NewLoader(f.cfg.Schedule.CacheDir).Load(ctx, f.cfg.Schedule.Source)
}

// selectRounds picks the requested rounds from events, or all of them when
// args is empty.
func selectRounds(events []model.Event, args []string) ([]model.Event, error) {
	if len(args) == 0 {
		return events, nil
	}
	byRound := make(map[int]model.Event, len(events))
	for _, ev := range events {
		byRound[ev.Round] = ev
	}

	out := make([]model.Event, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || n <= 0 {
			return nil, usage(fmt.Sprintf("invalid round %q", a))
		}
		ev, ok := byRound[n]
		if !ok {
			return nil, fmt.Errorf("round %d is not in the schedule", n)
		}
		out = append(out, ev)
	}
	return out, nil
}
