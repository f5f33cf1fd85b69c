package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/tempod/internal/app"
	"github.com/dokzlo13/tempod/internal/clock"
	"github.com/dokzlo13/tempod/internal/ledger"
	"github.com/dokzlo13/tempod/internal/schedule"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run wake cycles until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		return application.Run(app.SignalContext())
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single wake cycle, including its sleep",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		c, err := application.RunOnce(app.SignalContext())
		if err != nil {
			return err
		}
		log.Info().
			Str("cycle", c.ID).
			Bool("fallback", c.Fallback).
			Dur("slept", c.Sleep).
			Msg("Cycle finished")
		return nil
	},
}

var nextWakeCmd = &cobra.Command{
	Use:   "next-wake",
	Short: "Print today's wake table and the next wake time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		s := application.Services()
		if s.SlotsErr != nil {
			return s.SlotsErr
		}
		res, err := s.Resolver.Resolve(cmd.Context(), false)
		if err != nil {
			return err
		}

		fmt.Print(schedule.FormatForDay(res.Time, s.Slots))
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch today's and tomorrow's colors and print them as JSON",
	Long: `Resolves the clock (trying NTP), queries the configured provider once and
prints the color state. The panel is not touched and no sleep is entered.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		s := application.Services()
		res, err := s.Resolver.Resolve(cmd.Context(), true)
		if err != nil {
			return err
		}

		prov := s.NewProvider()
		defer prov.Close()

		colors, outcome, fetchErr := prov.FetchColors(cmd.Context(), res.Time, clock.Tomorrow(res.Time))
		colors.DeriveFound()

		out := map[string]any{
			"provider":       prov.Name(),
			"date":           clock.DayKey(res.Time),
			"colors":         colors,
			"today_label":    colors.Today.Label(),
			"tomorrow_label": colors.Tomorrow.Label(),
			"fetch":          outcome,
		}
		if fetchErr != nil {
			out["error"] = fetchErr.Error()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return fetchErr
	},
}

var (
	historyCycle string
	historyType  string
	historySince time.Duration
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded wake cycle events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := newApp()
		if err != nil {
			return err
		}
		defer application.Close()

		l := application.Services().Ledger
		if l == nil {
			return errors.New("ledger is disabled in the configuration")
		}

		var entries []*ledger.Entry
		switch {
		case historyCycle != "":
			entries, err = l.GetByCycle(historyCycle)
		case historyType != "":
			entries, err = l.GetByType(ledger.EventType(historyType), historyLimit)
		default:
			now := time.Now()
			entries, err = l.GetByTimeRange(now.Add(-historySince), now, historyLimit)
		}
		if err != nil {
			return err
		}

		for _, e := range entries {
			payload, _ := json.Marshal(e.Payload)
			fmt.Printf("%s  %-16s %s  %s\n", e.Timestamp.Local().Format(time.RFC3339), e.EventType, e.CycleID, payload)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyCycle, "cycle", "", "Show all events of one cycle")
	historyCmd.Flags().StringVar(&historyType, "type", "", "Show events of one type (e.g. fetch_failed)")
	historyCmd.Flags().DurationVar(&historySince, "since", 24*time.Hour, "Time window to show")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of events")
}

func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	application, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return application, nil
}
