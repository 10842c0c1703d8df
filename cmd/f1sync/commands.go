package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"f1sync/internal/gcal"
	appLog "f1sync/internal/log"
	"f1sync/internal/model"
	"f1sync/internal/schedule"
	"f1sync/internal/web"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the schedule, calendar downloads and web sync over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := flags.cfg
			appLog.Info("f1sync starting", "version", version)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			store := schedule.NewStore(schedule.NewLoader(cfg.Schedule.CacheDir), cfg.Schedule.Source)
			if err := store.Refresh(ctx); err != nil {
				return err
			}
			if err := store.StartRefresh(ctx, cfg.Schedule.Refresh); err != nil {
				return fmt.Errorf("schedule refresh %q: %w", cfg.Schedule.Refresh, err)
			}

			authz := gcal.NewCallbackAuthorizer()
			session := gcal.NewSession(gcal.Options{
				ClientSecret:    cfg.Google.ClientSecret,
				RedirectURL:     cfg.Google.RedirectURL,
				CalendarID:      cfg.Google.CalendarID,
				Season:          cfg.Season,
				DurationMinutes: cfg.Export.DurationMinutes,
				PollInterval:    cfg.Google.PollInterval,
				InitTimeout:     cfg.Google.InitTimeout,
				Authorizer:      authz,
			})

			srv := web.NewServer(cfg, store, session, authz)
			err := srv.ListenAndServe(ctx)
			appLog.Info("f1sync exiting")
			return err
		},
	}
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		outDir string
		season bool
	)
	cmd := &cobra.Command{
		Use:   "export [round...]",
		Short: "Write .ics files for the given rounds (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := flags.loadSchedule(cmd.Context())
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = flags.cfg.Export.OutputDir
			}
			x := flags.exporter()
			out := cmd.OutOrStdout()

			if season {
				if len(args) > 0 {
					return usage("--season takes no rounds")
				}
				path, err := x.WriteSeasonFile(outDir, events)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
				return nil
			}

			selected, err := selectRounds(events, args)
			if err != nil {
				return err
			}
			for _, ev := range selected {
				if w := x.Window(ev); w.Fallback {
					appLog.Warn("event time unparseable; exported window starts now",
						"round", ev.Round, "date", ev.Date, "time", ev.Time)
				}
				path, err := x.WriteFile(outDir, ev)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default: export.output_dir)")
	cmd.Flags().BoolVar(&season, "season", false, "Write one full-season file instead of one file per round")
	return cmd
}

func newLinkCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "link <round>",
		Short: "Print a quick-add calendar link for one round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := flags.loadSchedule(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := selectRounds(events, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), flags.exporter().QuickAddURL(selected[0]))
			return nil
		},
	}
}

func newSyncCmd(flags *rootFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "sync [round...]",
		Short: "Insert rounds (default: all) into Google Calendar in one batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.cfg
			if err := cfg.ValidateSync(); err != nil {
				return err
			}
			events, err := flags.loadSchedule(cmd.Context())
			if err != nil {
				return err
			}
			selected, err := selectRounds(events, args)
			if err != nil {
				return err
			}

			errOut := cmd.ErrOrStderr()
			session := gcal.NewSession(gcal.Options{
				ClientSecret:    cfg.Google.ClientSecret,
				CalendarID:      cfg.Google.CalendarID,
				Season:          cfg.Season,
				DurationMinutes: cfg.Export.DurationMinutes,
				PollInterval:    cfg.Google.PollInterval,
				InitTimeout:     cfg.Google.InitTimeout,
				Authorizer: &gcal.LoopbackAuthorizer{
					Addr: listen,
					Open: func(consentURL string) error {
						_, err := fmt.Fprintf(errOut, "Open this URL to authorize calendar access:\n\n  %s\n\n", consentURL)
						return err
					},
				},
			})

			if err := session.Initialize(cmd.Context(), cfg.Google.ClientID); err != nil {
				return fmt.Errorf("%s: %w", gcal.UserMessage(err), err)
			}
			resp, err := session.SyncEvents(cmd.Context(), selected)
			if err != nil {
				return fmt.Errorf("%s: %w", gcal.UserMessage(err), err)
			}
			printSyncResult(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:0", "Loopback address for the OAuth redirect")
	return cmd
}

func printSyncResult(w io.Writer, resp *gcal.BatchResponse) {
	fmt.Fprintf(w, "batch status %d: %d created, %d failed\n", resp.StatusCode, resp.Succeeded(), resp.Failed())
	for _, it := range resp.Items {
		if it.Error != "" {
			fmt.Fprintf(w, "  round %d: HTTP %d %s\n", it.Round, it.StatusCode, it.Error)
		}
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	var zone string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the season schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := flags.loadSchedule(cmd.Context())
			if err != nil {
				return err
			}
			if zone == "" {
				zone = flags.cfg.DisplayTimezone
			}
			writeTable(cmd.OutOrStdout(), scheduleRows(events, zone))
			return nil
		},
	}
	cmd.Flags().StringVar(&zone, "tz", "", "Display timezone (default: display_timezone)")
	return cmd
}

func scheduleRows(events []model.Event, zone string) [][]string {
	rows := [][]string{{"RND", "GRAND PRIX", "WEEKEND", "VENUE", "LOCAL", zone, ""}}
	for _, ev := range events {
		sprint := ""
		if ev.IsSprintWeekend {
			sprint = "sprint"
		}
		rows = append(rows, []string{
			strconv.Itoa(ev.Round),
			ev.GrandPrixName,
			schedule.WeekendRange(ev.WeekendStartDate, ev.WeekendEndDate),
			ev.City + ", " + ev.Country,
			schedule.LocalTime(ev, ev.TimezoneID),
			schedule.DisplayTime(ev, zone),
			sprint,
		})
	}
	return rows
}

// writeTable pads columns by display width so names with wide runes line up.
func writeTable(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}
}
