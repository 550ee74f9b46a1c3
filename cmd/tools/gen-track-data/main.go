// Command gen-track-data seeds a database with synthetic detectors and
// vehicle sightings for exercising the analysis endpoints: a grid of
// detectors, a convoy of vehicles moving together along one corridor, and
// background vehicles on random walks.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/traffic.report/internal/db"
)

var (
	dbFile      = flag.String("db", "traffic_data.db", "Path to the SQLite database file")
	gridSize    = flag.Int("grid", 4, "Detector grid size (grid x grid)")
	spacingDeg  = flag.Float64("spacing", 0.005, "Detector spacing in degrees (~550m at the equator)")
	convoySize  = flag.Int("convoy", 3, "Number of vehicles moving together")
	background  = flag.Int("background", 20, "Number of background vehicles")
	seed        = flag.Int64("seed", 1, "PRNG seed")
	startOffset = flag.Duration("age", 2*time.Hour, "How far in the past the data starts")
)

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().UTC().Add(-*startOffset)

	detectors := seedDetectors(database, *gridSize, *spacingDeg)
	log.Printf("✓ %d detectors", len(detectors))

	// Convoy: same corridor, small per-vehicle time offsets so the joint
	// movement detector has something to find.
	corridor := corridorWalk(detectors, *gridSize, *gridSize)
	for v := 0; v < *convoySize; v++ {
		vehicle := fmt.Sprintf("CONVOY-%03d", v+1)
		offset := time.Duration(v) * 15 * time.Second
		writeTrack(database, vehicle, corridor, start.Add(offset), 90*time.Second, rng)
	}
	log.Printf("✓ %d convoy vehicles along %d detectors", *convoySize, len(corridor))

	for v := 0; v < *background; v++ {
		vehicle := fmt.Sprintf("BG-%04d", v+1)
		hops := 2 + rng.Intn(*gridSize*2)
		track := randomWalk(detectors, rng, hops)
		jitter := time.Duration(rng.Int63n(int64(*startOffset) / 2))
		writeTrack(database, vehicle, track, start.Add(jitter), 60*time.Second, rng)
	}
	log.Printf("✓ %d background vehicles", *background)
}

// seedDetectors creates a grid of detectors, reusing any that already exist.
func seedDetectors(database *db.DB, size int, spacing float64) []db.Detector {
	detectors := make([]db.Detector, 0, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			externalID := fmt.Sprintf("DET-%02d%02d", row, col)
			if existing, err := database.GetDetectorByExternalID(externalID); err == nil {
				detectors = append(detectors, *existing)
				continue
			}
			name := fmt.Sprintf("Grid %d/%d", row, col)
			d := db.Detector{
				ExternalID:   externalID,
				Latitude:     52.0 + float64(row)*spacing,
				Longitude:    13.0 + float64(col)*spacing,
				LocationName: &name,
			}
			if err := database.CreateDetector(&d); err != nil {
				log.Fatalf("failed to create detector %s: %v", externalID, err)
			}
			detectors = append(detectors, d)
		}
	}
	return detectors
}

// corridorWalk returns the first row of the grid, west to east.
func corridorWalk(detectors []db.Detector, gridSize, length int) []db.Detector {
	if length > gridSize {
		length = gridSize
	}
	return detectors[:length]
}

// randomWalk picks a starting cell and steps to adjacent cells.
func randomWalk(detectors []db.Detector, rng *rand.Rand, hops int) []db.Detector {
	track := make([]db.Detector, 0, hops)
	idx := rng.Intn(len(detectors))
	for i := 0; i < hops; i++ {
		track = append(track, detectors[idx])
		next := idx + []int{-1, 1}[rng.Intn(2)]
		if next < 0 || next >= len(detectors) {
			next = idx
		}
		idx = next
	}
	return track
}

func writeTrack(database *db.DB, vehicle string, track []db.Detector, start time.Time, hop time.Duration, rng *rand.Rand) {
	ts := start
	for _, d := range track {
		speed := 30.0 + rng.Float64()*40.0
		reading := db.TrackReading{
			DetectorID: d.ID,
			VehicleID:  vehicle,
			Timestamp:  ts,
			SpeedKMH:   &speed,
		}
		if err := database.InsertReading(&reading); err != nil {
			log.Fatalf("failed to insert reading for %s: %v", vehicle, err)
		}
		// a little jitter keeps timestamps from aligning exactly
		ts = ts.Add(hop + time.Duration(rng.Int63n(int64(10*time.Second))))
	}
}
