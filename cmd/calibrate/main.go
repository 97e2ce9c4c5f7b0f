// Command calibrate runs EM joint calibration over one or more recorded
// measurement bundles and prints the calibration report (per-sensor biases,
// noise variances and the cross-sensor correlation matrix) as JSON.
//
// Usage:
//
//	calibrate -db telemetry.db bundle1.json [bundle2.json ...]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/arable-data/chronofuse/internal/config"
	"github.com/arable-data/chronofuse/internal/db"
	"github.com/arable-data/chronofuse/internal/fusion"
	"github.com/arable-data/chronofuse/internal/fusion/calibrate"
	"github.com/arable-data/chronofuse/internal/fusion/delay"
	"github.com/arable-data/chronofuse/internal/fusion/storage/sqlite"
	"github.com/arable-data/chronofuse/internal/security"
	"github.com/arable-data/chronofuse/internal/version"
)

var (
	dbPath      = flag.String("db", "telemetry.db", "Path to the telemetry SQLite database")
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the tuning config JSON")
	outPath     = flag.String("out", "", "Write the calibration report JSON to this file instead of stdout")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("calibrate", version.String())
		return
	}
	if flag.NArg() == 0 {
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

	ctx := context.Background()
	profiles := sqlite.NewProfileStore(database)
	corrector := delay.NewCorrector(profiles)

	var sets []calibrate.MeasurementSet
	for _, path := range flag.Args() {
		bundleSets, err := loadSets(ctx, corrector, path)
		if err != nil {
			log.Fatalf("bundle %s: %v", path, err)
		}
		sets = append(sets, bundleSets...)
	}
	log.Printf("[Calibrate] loaded %d measurement sets from %d bundles", len(sets), flag.NArg())

	cal := calibrate.NewCalibrator(calibrate.Config{
		MaxIterations:        tuning.GetMaxIterations(),
		ConvergenceThreshold: tuning.GetConvergenceThreshold(),
		LearningRate:         tuning.GetEMLearningRate(),
		VarianceFloor:        tuning.GetEMVarianceFloor(),
	}, nil)

	result, err := cal.Calibrate(sets)
	if err != nil {
		log.Fatalf("calibrate: %v", err)
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
	if err := security.ValidateOutputPath(*outPath); err != nil {
		log.Fatalf("refusing output path: %v", err)
	}
	if err := os.WriteFile(*outPath, out, 0o644); err != nil {
		log.Fatalf("write report: %v", err)
	}
	log.Printf("[Calibrate] report written to %s", *outPath)
}

// loadSets reads a bundle, applies delay correction, and slices the streams
// into per-epoch observation sets keyed by measurement order. Sensors with
// no calibration profile are skipped with a warning rather than aborting
// the whole run.
func loadSets(ctx context.Context, corrector *delay.Corrector, path string) ([]calibrate.MeasurementSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bundle fusion.SensorMeasurementBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, err
	}

	streams := bundle.StreamsBySensor()
	ids := make([]string, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	corrected := make(map[string][]fusion.Measurement, len(ids))
	maxLen := 0
	for _, id := range ids {
		cs, err := corrector.CorrectStream(ctx, streams[id])
		if err != nil {
			log.Printf("[Calibrate] skipping %s: %v", id, err)
			continue
		}
		sorted := cs.SortedByTime()
		corrected[id] = sorted
		if len(sorted) > maxLen {
			maxLen = len(sorted)
		}
	}

	var sets []calibrate.MeasurementSet
	for i := 0; i < maxLen; i++ {
		var set calibrate.MeasurementSet
		for _, id := range ids {
			ms := corrected[id]
			if i >= len(ms) {
				continue
			}
			comps := ms[i].Value.Components()
			if len(comps) == 0 {
				continue
			}
			set = append(set, calibrate.Observation{SensorID: id, Value: comps[0]})
		}
		if len(set) >= 2 {
			sets = append(sets, set)
		}
	}
	return sets, nil
}
