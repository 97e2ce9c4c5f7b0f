// Command fuse runs the temporal alignment and fusion pipeline over a
// recorded measurement bundle and prints the fusion result as JSON.
//
// Usage:
//
//	fuse -bundle recorded.json -db telemetry.db [-config config/tuning.defaults.json] [-algo levenberg_marquardt]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/arable-data/chronofuse/internal/config"
	"github.com/arable-data/chronofuse/internal/db"
	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/pipeline"
	"github.com/arable-data/chronofuse/internal/fusion/storage/sqlite"
	"github.com/arable-data/chronofuse/internal/fusion/trust"
	"github.com/arable-data/chronofuse/internal/security"
	"github.com/arable-data/chronofuse/internal/version"
)

var (
	bundlePath  = flag.String("bundle", "", "Path to recorded measurement bundle JSON (required)")
	dbPath      = flag.String("db", "telemetry.db", "Path to the telemetry SQLite database")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	algo        = flag.String("algo", "", "Override fusion algorithm (levenberg_marquardt, expectation_maximization, byzantine_consensus)")
	outPath     = flag.String("out", "", "Write the result JSON to this file instead of stdout")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("fuse", version.String())
		return
	}
	if *bundlePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		log.Fatalf("read bundle: %v", err)
	}
	var bundle fusion.SensorMeasurementBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		log.Fatalf("parse bundle: %v", err)
	}

	profiles := sqlite.NewProfileStore(database)
	trustStore := sqlite.NewTrustStore(database)
	tracker := trust.NewTracker(trust.ConfigFromTuning(tuning), trustStore)

	engine := pipeline.NewEngine(profiles, tracker, pipeline.ConfigFromTuning(tuning),
		pipeline.WithStepPattern(pipeline.PatternFromTuning(tuning)),
		pipeline.WithConstraints(pipeline.ConstraintsFromTuning(tuning)),
		pipeline.WithOptimizerConfig(pipeline.OptimizerFromTuning(tuning)),
		pipeline.WithCalibratorConfig(pipeline.CalibratorFromTuning(tuning)),
	)

	cfg := fusion.Config{}
	if *algo != "" {
		cfg.Algorithm = fusion.AlgorithmKind(*algo)
	}

	result, err := engine.Fuse(context.Background(), bundle, cfg)
	if err != nil {
		log.Fatalf("fuse: %v", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("encode result: %v", err)
	}
	out = append(out, '\n')

	if *outPath == "" {
		os.Stdout.Write(out)
		return
	}
	// A trailing separator names a directory; the file takes the run ID.
	target := *outPath
	if strings.HasSuffix(target, string(os.PathSeparator)) {
		target = filepath.Join(target, "fusion-"+security.SanitizeFilename(result.RunID)+".json")
	}
	if err := security.ValidateOutputPath(target); err != nil {
		log.Fatalf("refusing output path: %v", err)
	}
	if err := os.WriteFile(target, out, 0o644); err != nil {
		log.Fatalf("write result: %v", err)
	}
	log.Printf("[Fuse] run %s written to %s", result.RunID, target)
}
