package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"kneeseg/internal/monitoring"
	"kneeseg/pkg/config"
	"kneeseg/pkg/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command and returns the process exit code. Deferred
// cleanup, such as closing the log file, happens before the process exits.
func run(args []string) int {
	// Parse command line arguments
	flags := flag.NewFlagSet("kneeseg", flag.ContinueOnError)
	input := flags.String("input", "", "Knee CT volume (.nii or .nii.gz)")
	configPath := flags.String("config", "kneeseg.yaml", "YAML configuration file (defaults are used if it does not exist)")
	initConfig := flags.Bool("init-config", false, "Write the default configuration to -config and exit")
	outputDir := flags.String("output", "", "Output directory (overrides output.dir)")
	seed := flags.Int64("seed", -1, "Random seed for the randomized masks (overrides variants.seed)")
	workers := flags.Int("workers", 0, "Concurrent variant workers (overrides processing.numWorkers)")
	noPlots := flags.Bool("no-plots", false, "Skip PNG overlays and landmark plots")
	noMasks := flags.Bool("no-masks", false, "Skip writing mask volumes")
	logDir := flags.String("log-dir", "logs", "Directory for the run log file; empty disables the file")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Printf("Failed to write configuration: %v", err)
			return 1
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return 0
	}

	// Validate inputs
	if *input == "" {
		flags.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *seed >= 0 {
		cfg.Variants.Seed = uint64(*seed)
	}
	if *workers > 0 {
		cfg.Processing.NumWorkers = *workers
	}
	if *noPlots {
		cfg.Output.RenderPlots = false
	}
	if *noMasks {
		cfg.Output.SaveMasks = false
	}

	if *logDir != "" {
		logFile, err := openLogFile(*logDir)
		if err != nil {
			log.Printf("Failed to open log file: %v", err)
			return 1
		}
		defer logFile.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		defer log.SetOutput(os.Stderr)
		fmt.Printf("Logging to %s\n", logFile.Name())
	}

	sink := monitoring.Sink(monitoring.NewLogSink(log.Printf))
	if !cfg.Output.Verbose {
		inner := sink
		sink = monitoring.SinkFunc(func(e monitoring.Event) {
			if e.Severity >= monitoring.Warning {
				inner.Emit(e)
			}
		})
	}
	events := &monitoring.Recorder{}
	sink = monitoring.Tee(sink, events)

	fmt.Println("================================")
	fmt.Println("KNEE CT BONE SEGMENTATION AND TIBIA LANDMARKS")
	fmt.Println("================================")

	p, err := pipeline.NewPipeline(&pipeline.Params{
		InputFile: *input,
		Config:    cfg,
		Sink:      sink,
	})
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Run %s: processing %s with %d workers...\n", p.RunID(), *input, cfg.Processing.NumWorkers)
	startTime := time.Now()
	res, err := p.Process(ctx)
	if err != nil {
		log.Printf("Processing failed: %v", err)
		return 1
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nProcessing completed in %.2f seconds\n\n", processingTime.Seconds())
	fmt.Println("Tibia landmarks (mm):")
	fmt.Println("=======================================")
	for _, o := range res.Outcomes {
		if o.Err != nil {
			fmt.Printf("%-14s FAILED: %v\n", o.Record.MaskName, o.Err)
			continue
		}
		r := o.Record
		fmt.Printf("%-14s medial (%.2f, %.2f, %.2f)  lateral (%.2f, %.2f, %.2f)\n", r.MaskName,
			r.MedialMM[0], r.MedialMM[1], r.MedialMM[2], r.LateralMM[0], r.LateralMM[1], r.LateralMM[2])
	}
	if res.Spread.Variants > 1 {
		fmt.Printf("\nLandmark spread across %d variants (std, mm): medial %.2f/%.2f/%.2f, lateral %.2f/%.2f/%.2f\n",
			res.Spread.Variants,
			res.Spread.Medial[0], res.Spread.Medial[1], res.Spread.Medial[2],
			res.Spread.Lateral[0], res.Spread.Lateral[1], res.Spread.Lateral[2])
	}

	fmt.Printf("\nOutputs saved to %s:\n", cfg.Output.Dir)
	for _, f := range res.Files {
		fmt.Printf("- %s\n", f)
	}

	if failed := res.Failed(); len(failed) > 0 {
		fmt.Printf("\n%d variant(s) failed: %v\n", len(failed), failed)
	}
	if n := countWarnings(events); n > 0 {
		fmt.Printf("%d warning(s) were logged during the run\n", n)
	}
	return 0
}

// countWarnings counts the warning events of every stage.
func countWarnings(r *monitoring.Recorder) int {
	n := 0
	for _, e := range r.Events() {
		if e.Severity == monitoring.Warning {
			n++
		}
	}
	return n
}

// openLogFile creates a log file named after the current time in dir.
func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, time.Now().Format("01_02_2006_15_04_05")+".log")
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
