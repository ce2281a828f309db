// Command ephtool loads ephemeris files into an in-memory store for
// offline inspection, lookup and pass prediction, and merges TLE files.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/gnsseph/internal/ephjson"
	"github.com/star/gnsseph/internal/ephstore"
	"github.com/star/gnsseph/internal/gnss"
	"github.com/star/gnsseph/internal/orbit"
	"github.com/star/gnsseph/internal/passes"
	"github.com/star/gnsseph/internal/propagation"
	"github.com/star/gnsseph/internal/tle"
	"github.com/star/gnsseph/internal/transform"
)

var rootCmd = &cobra.Command{
	Use:   "ephtool",
	Short: "Inspect GNSS broadcast ephemerides offline",
	Long: `ephtool loads TLE files and JSON broadcast ephemerides into an in-memory
store and answers the same questions as the ephd service, without a server.
Files ending in .json are read as ephemerides; anything else is read as TLE.`,
	SilenceUsage: true,
}

var dumpCmd = &cobra.Command{
	Use:   "dump FILE...",
	Short: "Load files and print the store listing",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDump,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup SAT FILE...",
	Short: "Find the record governing a satellite at a time",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runLookup,
}

var passesCmd = &cobra.Command{
	Use:   "passes FILE...",
	Short: "Predict when stored satellites are above an observer's horizon",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPasses,
}

var mergeCmd = &cobra.Command{
	Use:   "merge FILE...",
	Short: "Merge TLE files, dropping repeated element sets",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMerge,
}

var (
	debug       bool
	policyName  string
	allHealth   bool
	fit         time.Duration
	dumpLevel   int
	atTime      string
	methodName  string
	obsLat      float64
	obsLon      float64
	obsAlt      float64
	passHours   float64
	minElev     float64
	systemName  string
	mergeOutput string
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&policyName, "policy", "strict", "store key policy: strict or near")
	rootCmd.PersistentFlags().BoolVar(&allHealth, "all-health", false, "compute states from unhealthy records too")
	rootCmd.PersistentFlags().DurationVar(&fit, "fit", 72*time.Hour, "validity interval given to TLE records")

	dumpCmd.Flags().IntVarP(&dumpLevel, "level", "l", ephstore.DumpSats, "detail level 0-4")

	lookupCmd.Flags().StringVarP(&atTime, "time", "t", "", "lookup time, RFC 3339 (default now)")
	lookupCmd.Flags().StringVarP(&methodName, "method", "m", "", "lookup method: user, near or empty for the store policy")

	passesCmd.Flags().Float64Var(&obsLat, "lat", 0, "observer latitude, degrees")
	passesCmd.Flags().Float64Var(&obsLon, "lon", 0, "observer longitude, degrees")
	passesCmd.Flags().Float64Var(&obsAlt, "alt", 0, "observer altitude, meters")
	passesCmd.Flags().StringVarP(&atTime, "time", "t", "", "window start, RFC 3339 (default now)")
	passesCmd.Flags().Float64Var(&passHours, "hours", 12, "window length in hours")
	passesCmd.Flags().Float64Var(&minElev, "min-el", 10, "elevation mask, degrees")
	passesCmd.Flags().StringVar(&systemName, "system", "", "only this system letter (G, R, E, C, J, S, I)")

	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "write to this file instead of stdout")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(passesCmd)
	rootCmd.AddCommand(mergeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadStore reads every file into a fresh store and reports the batch totals.
func loadStore(files []string, logger *slog.Logger) (*ephstore.Store, error) {
	policy, err := ephstore.ParseKeyPolicy(policyName)
	if err != nil {
		return nil, err
	}
	store := ephstore.New(ephstore.Options{
		Name:        "ephtool",
		Policy:      policy,
		OnlyHealthy: !allHealth,
		TimeSystem:  gnss.TimeGPS,
	})

	for _, path := range files {
		recs, err := readRecords(path, logger)
		if err != nil {
			return nil, err
		}
		res := store.AddBatch(recs)
		logger.Info("loaded file",
			"path", path,
			"records", len(recs),
			"stored", res.Stored(),
			"duplicates", res.Duplicates,
			"conflicts", res.Conflicts,
			"errors", len(res.Errors),
		)
	}
	return store, nil
}

func readRecords(path string, logger *slog.Logger) ([]orbit.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		recs, err := ephjson.ReadRecords(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return recs, nil
	}
	entries, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tle.ToRecords(entries, fit, logger), nil
}

func parseTimeFlag(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", v)
	}
	return t, nil
}

func runDump(cmd *cobra.Command, args []string) error {
	store, err := loadStore(args, newLogger())
	if err != nil {
		return err
	}
	return store.Dump(cmd.OutOrStdout(), dumpLevel)
}

func runLookup(cmd *cobra.Command, args []string) error {
	sat, err := gnss.ParseSatID(args[0])
	if err != nil {
		return err
	}
	t, err := parseTimeFlag(atTime)
	if err != nil {
		return err
	}
	method, err := propagation.ParseMethod(methodName)
	if err != nil {
		return err
	}
	store, err := loadStore(args[1:], newLogger())
	if err != nil {
		return err
	}

	var rec orbit.Record
	switch method {
	case propagation.MethodUser:
		rec, err = store.FindUser(sat, t)
	case propagation.MethodNear:
		rec, err = store.FindNear(sat, t)
	default:
		rec, err = store.Find(sat, t)
	}
	if err != nil {
		return err
	}
	return printLookup(cmd.OutOrStdout(), rec, t, !allHealth)
}

func printLookup(w io.Writer, rec orbit.Record, t time.Time, onlyHealthy bool) error {
	if err := rec.Dump(w); err != nil {
		return err
	}
	if onlyHealthy && !rec.IsHealthy() {
		_, err := fmt.Fprintf(w, "State at %s: %v\n", t.UTC().Format(time.RFC3339), ephstore.ErrUnhealthy)
		return err
	}
	st, err := rec.StateAt(t)
	if err != nil {
		return err
	}
	g := transform.ToGeodetic(st.Position)
	_, err = fmt.Fprintf(w, "State at %s:\n  ECEF %.3f %.3f %.3f m\n  lat %.5f lon %.5f alt %.1f m\n  clock %.12e s\n",
		t.UTC().Format(time.RFC3339), st.Position[0], st.Position[1], st.Position[2],
		g.LatDeg, g.LonDeg, g.AltM, st.ClockBias)
	return err
}

func runPasses(cmd *cobra.Command, args []string) error {
	if obsLat < -90 || obsLat > 90 || obsLon < -180 || obsLon > 180 {
		return fmt.Errorf("observer out of range: lat %g lon %g", obsLat, obsLon)
	}
	if passHours <= 0 {
		return errors.New("hours must be positive")
	}
	start, err := parseTimeFlag(atTime)
	if err != nil {
		return err
	}
	var sys gnss.System
	if systemName != "" {
		var ok bool
		if len(systemName) == 1 {
			sys, ok = gnss.SystemFromLetter(strings.ToUpper(systemName)[0])
		}
		if !ok {
			return fmt.Errorf("unknown system %q", systemName)
		}
	}

	store, err := loadStore(args, newLogger())
	if err != nil {
		return err
	}
	var sats []gnss.SatID
	for _, sat := range store.IndexSet() {
		if sys == gnss.SystemUnknown || sat.System == sys {
			sats = append(sats, sat)
		}
	}

	req := passes.Request{
		Observer:     transform.NewObserver(obsLat, obsLon, obsAlt),
		Sats:         sats,
		Start:        start,
		End:          start.Add(time.Duration(passHours * float64(time.Hour))),
		MinElevation: minElev,
	}
	results := passes.Predict(context.Background(), store, req)

	w := cmd.OutOrStdout()
	for _, res := range results {
		if res.Error != "" {
			fmt.Fprintf(w, "%s  error: %s\n", res.Sat, res.Error)
			continue
		}
		for _, p := range res.Passes {
			fmt.Fprintf(w, "%s  rise %s az %5.1f  max %s el %4.1f  set %s az %5.1f\n", res.Sat,
				p.StartTime.UTC().Format(time.RFC3339), p.StartAzimuth,
				p.MaxElevationTime.UTC().Format(time.RFC3339), p.MaxElevation,
				p.EndTime.UTC().Format(time.RFC3339), p.EndAzimuth)
		}
	}
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	sets := make([][]tle.TLEEntry, 0, len(args))
	total := 0
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		entries, err := tle.Parse(f, logger)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		total += len(entries)
		sets = append(sets, entries)
	}
	merged := tle.Merge(sets...)
	logger.Info("merged element sets", "read", total, "written", len(merged))

	if mergeOutput == "" {
		return tle.Write(cmd.OutOrStdout(), merged)
	}
	f, err := os.Create(mergeOutput)
	if err != nil {
		return err
	}
	if err := tle.Write(f, merged); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
