// Command genstations generates a synthetic station inventory and seeds a
// SQLite store with hourly temperature fixtures. The series carry a diurnal
// cycle, altitude lapse, random gaps, and a handful of injected faults, so a
// qc run over the fixture exercises every check in the chain.
//
// Usage:
//
//	go run ./cmd/genstations \
//	  -stations-out stations.json \
//	  -db sensor-qc.db \
//	  -count 25 -days 45
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/couchcryptid/sensor-qc-service/internal/adapter/netatmo"
	"github.com/couchcryptid/sensor-qc-service/internal/adapter/sqlite"
	"github.com/couchcryptid/sensor-qc-service/internal/domain"
)

// Network center: Bolzano, South Tyrol.
const (
	centerLat = 46.4983
	centerLon = 11.3548
	baseAlt   = 262.0
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	stationsOut := flag.String("stations-out", "", "output path for the station inventory JSON")
	dbPath := flag.String("db", "", "SQLite database to seed with observations (optional)")
	count := flag.Int("count", 25, "number of stations to generate")
	days := flag.Int("days", 45, "days of hourly observations to generate")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	if *stationsOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -stations-out")
	}

	// Fixed window end so regenerated fixtures are reproducible.
	end := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	rng := rand.New(rand.NewSource(*seed))

	sources := generateSources(rng, *count)
	if err := writeJSON(*stationsOut, sources); err != nil {
		return fmt.Errorf("writing station inventory: %w", err)
	}
	log.Printf("wrote %d stations: %s", len(sources), *stationsOut)

	if *dbPath == "" {
		return nil
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	stations := make([]domain.Station, len(sources))
	for i, src := range sources {
		stations[i] = src.Station
	}
	if err := store.UpsertStations(ctx, stations); err != nil {
		return fmt.Errorf("seeding stations: %w", err)
	}

	total, faults, err := seedObservations(ctx, store, rng, stations, end, *days)
	if err != nil {
		return fmt.Errorf("seeding observations: %w", err)
	}
	log.Printf("seeded %d observations (%d injected faults): %s", total, faults, *dbPath)
	return nil
}

// generateSources scatters stations within ~10 km of the network center,
// with altitudes drawn up the valley flanks.
func generateSources(rng *rand.Rand, count int) []netatmo.Source {
	sources := make([]netatmo.Source, count)
	for i := range sources {
		alt := baseAlt + rng.Float64()*600
		sources[i] = netatmo.Source{
			Station: domain.Station{
				ID:        fmt.Sprintf("bz:%03d", i),
				Latitude:  centerLat + (rng.Float64()-0.5)*0.18,
				Longitude: centerLon + (rng.Float64()-0.5)*0.18,
				Altitude:  math.Round(alt),
			},
			DeviceID: fmt.Sprintf("70:ee:50:%02x:%02x:%02x", rng.Intn(256), rng.Intn(256), rng.Intn(256)),
			ModuleID: fmt.Sprintf("02:00:00:%02x:%02x:%02x", rng.Intn(256), rng.Intn(256), rng.Intn(256)),
		}
	}
	return sources
}

// seedObservations writes hourly series ending at end. Each station gets a
// seasonal baseline lapsed by altitude, a diurnal cycle, noise, random gaps,
// plus a few gross errors and one stuck sensor for the checks to catch.
func seedObservations(ctx context.Context, store *sqlite.Store, rng *rand.Rand, stations []domain.Station, end time.Time, days int) (total, faults int, err error) {
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	hours := days * 24

	for si := range stations {
		st := &stations[si]
		obs := make([]domain.Observation, 0, hours)
		lapse := -0.0065 * (st.Altitude - baseAlt)
		bias := (rng.Float64() - 0.5) * 1.5

		for h := 0; h < hours; h++ {
			// ~4% random dropout, plus one multi-day outage per station.
			if rng.Float64() < 0.04 {
				continue
			}
			if si%7 == 3 && h >= hours/2 && h < hours/2+60 {
				continue
			}

			ts := start.Add(time.Duration(h) * time.Hour)
			diurnal := 4 * math.Sin(2*math.Pi*float64(ts.Hour()-9)/24)
			temp := 3.5 + lapse + bias + diurnal + rng.NormFloat64()*0.6

			// Gross errors for the threshold and buddy checks.
			if rng.Float64() < 0.002 {
				temp += 25 + rng.Float64()*20
				faults++
			}
			// One station reports a stuck warm value for a stretch.
			if si == 1 && h >= 200 && h < 230 {
				temp = 18.0
			}

			obs = append(obs, domain.Observation{
				StationID:   st.ID,
				Time:        ts,
				Temperature: math.Round(temp*10) / 10,
			})
		}

		if err := store.InsertObservations(ctx, obs); err != nil {
			return 0, 0, err
		}
		total += len(obs)
	}
	faults += 30 // the stuck stretch on station 1
	return total, faults, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}
