package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// RoadNetworkEdge is an inferred adjacency between two nearby detectors.
// Edges are created by the graph builder and never updated; at most one edge
// exists per unordered detector pair (enforced by idx_road_network_edges_pair).
type RoadNetworkEdge struct {
	ID             string   `json:"id"`
	FromDetectorID string   `json:"from_detector_id"`
	ToDetectorID   string   `json:"to_detector_id"`
	DistanceMeters float64  `json:"distance_meters"`
	AvgSpeedKMH    *float64 `json:"avg_speed_kmh"`
}

// EdgeExistsBetween reports whether an edge exists between detectors a and b
// in either direction.
func (db *DB) EdgeExistsBetween(ctx context.Context, a, b string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM road_network_edges
		WHERE (from_detector_id = ? AND to_detector_id = ?)
		   OR (from_detector_id = ? AND to_detector_id = ?)
		LIMIT 1
	`, a, b, b, a).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check edge existence: %w", err)
	}
	return true, nil
}

// InsertEdges persists a batch of new edges in a single transaction, so a
// graph build either lands in full or not at all.
func (db *DB) InsertEdges(ctx context.Context, edges []RoadNetworkEdge) error {
	if len(edges) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin edge transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Printf("warning: failed to rollback edge transaction: %v", err)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO road_network_edges (id, from_detector_id, to_detector_id, distance_meters, avg_speed_kmh)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for i := range edges {
		e := &edges[i]
		if e.FromDetectorID == e.ToDetectorID {
			return fmt.Errorf("edge cannot connect detector %s to itself", e.FromDetectorID)
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.FromDetectorID, e.ToDetectorID, e.DistanceMeters, e.AvgSpeedKMH); err != nil {
			return fmt.Errorf("failed to insert edge %s->%s: %w", e.FromDetectorID, e.ToDetectorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edges: %w", err)
	}

	return nil
}

// CountEdges returns the total number of road network edges.
func (db *DB) CountEdges(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM road_network_edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return n, nil
}

// ListEdges returns all road network edges.
func (db *DB) ListEdges(ctx context.Context) ([]RoadNetworkEdge, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, from_detector_id, to_detector_id, distance_meters, avg_speed_kmh
		FROM road_network_edges
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []RoadNetworkEdge
	for rows.Next() {
		var e RoadNetworkEdge
		if err := rows.Scan(&e.ID, &e.FromDetectorID, &e.ToDetectorID, &e.DistanceMeters, &e.AvgSpeedKMH); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return edges, nil
}
