package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/airsusp/internal/config"
	"github.com/san-kum/airsusp/internal/diag"
	"github.com/san-kum/airsusp/internal/engine"
	"github.com/san-kum/airsusp/internal/gas"
	"github.com/san-kum/airsusp/internal/metrics"
	"github.com/san-kum/airsusp/internal/storage"
	"github.com/san-kum/airsusp/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	verbose    bool

	dt        float64
	duration  float64
	profile   string
	amplitude float64
	speed     float64
	thermal   string

	// plot command
	column string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "airsusp",
		Short: "pneumatic suspension co-simulation",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".airsusp", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a headless simulation and save the result",
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run with a live terminal view",
		RunE:  runLive,
	}
	addSimFlags(liveCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a channel from a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&column, "channel", "heave", "channel to plot (heave, roll, pitch, p_<chamber>, ...)")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in scenario presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.ListPresets() {
				fmt.Println(p)
			}
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [file]",
		Short: "write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Save(args[0], config.DefaultConfig())
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, exportCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "scenario preset")
	cmd.Flags().Float64Var(&dt, "dt", 0, "timestep override")
	cmd.Flags().Float64Var(&duration, "time", 0, "duration override")
	cmd.Flags().StringVar(&profile, "profile", "", "road profile override")
	cmd.Flags().Float64Var(&amplitude, "amplitude", 0, "road amplitude override (m)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "vehicle speed override (m/s)")
	cmd.Flags().StringVar(&thermal, "thermal", "", "thermal mode (isothermal|adiabatic)")
}

// buildConfig layers preset, config file, and explicit flags, in that
// order of increasing precedence.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("dt") {
		cfg.Sim.Dt = dt
	}
	if cmd.Flags().Changed("time") {
		cfg.Sim.Duration = duration
	}
	if cmd.Flags().Changed("profile") {
		cfg.Road.Name = profile
	}
	if cmd.Flags().Changed("amplitude") {
		cfg.Road.Amplitude = amplitude
	}
	if cmd.Flags().Changed("speed") {
		cfg.Road.Speed = speed
	}
	if cmd.Flags().Changed("thermal") {
		if _, err := gas.ParseMode(thermal); err != nil {
			return nil, err
		}
		cfg.Gas.Mode = thermal
	}
	return cfg, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return diag.NewLogger(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Sim.Duration <= 0 {
		return fmt.Errorf("headless run needs a positive --time")
	}
	cfg.Sim.RateHz = 0 // free run

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	eng, err := engine.New(cfg, newLogger())
	if err != nil {
		return err
	}

	rec := &storage.Recorder{}
	eng.AddObserver(rec)
	mset := []metrics.Metric{
		metrics.NewMassDrift(),
		metrics.NewComfort(),
		metrics.NewPeakAttitude(),
		metrics.NewFaultCount(),
	}
	for _, m := range mset {
		eng.AddObserver(m)
	}

	fmt.Printf("running %s profile for %.1fs (dt=%.4fs)...\n",
		cfg.Road.Name, cfg.Sim.Duration, cfg.Sim.Dt)
	start := time.Now()

	runErr := eng.Run(context.Background())
	elapsed := time.Since(start)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "simulation stopped: %v\n", runErr)
	}

	vals := make(map[string]float64, len(mset))
	for _, m := range mset {
		vals[m.Name()] = m.Value()
	}

	runID, err := st.Save(storage.RunMetadata{
		Preset:   preset,
		Profile:  cfg.Road.Name,
		Dt:       cfg.Sim.Dt,
		Duration: eng.Time(),
		Metrics:  vals,
	}, rec.Snapshots)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v (%d steps)\n", elapsed, eng.StepIndex())
	fmt.Printf("run id: %s\n\n", runID)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tVALUE")
	for _, m := range mset {
		fmt.Fprintf(w, "%s\t%.6g\n", m.Name(), m.Value())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	heave := make([]float64, len(rec.Snapshots))
	for i, s := range rec.Snapshots {
		heave[i] = s.Chassis[0] * 1000
	}
	if len(heave) > 1 {
		fmt.Println()
		fmt.Println(asciigraph.Plot(heave,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption("heave (mm)"),
		))
	}
	return runErr
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Sim.RateHz <= 0 {
		cfg.Sim.RateHz = 1.0 / cfg.Sim.Dt // wall-clock pace
	}

	eng, err := engine.New(cfg, newLogger())
	if err != nil {
		return err
	}

	mode, err := gas.ParseMode(cfg.Gas.Mode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)

	p := tea.NewProgram(tui.NewModel(eng, mode))
	if _, err := p.Run(); err != nil {
		return err
	}
	_ = eng.Stop()
	<-eng.Done()
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROFILE\tTIME\tDURATION\tDT\tSTEPS")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%.4fs\t%d\n",
			run.ID,
			run.Profile,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Steps,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.LoadMetadata(args[0])
	if err != nil {
		return err
	}
	_, values, err := st.LoadColumn(args[0], column)
	if err != nil {
		return err
	}
	if len(values) < 2 {
		return fmt.Errorf("not enough data to plot")
	}

	fmt.Printf("run: %s\nprofile: %s\nsamples: %d\n\n", meta.ID, meta.Profile, len(values))
	fmt.Println(asciigraph.Plot(values,
		asciigraph.Height(12),
		asciigraph.Width(80),
		asciigraph.Caption(column+" vs time"),
	))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.LoadMetadata(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
