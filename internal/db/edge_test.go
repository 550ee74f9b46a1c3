package db

import (
	"context"
	"testing"
)

func TestInsertEdgesAndExists(t *testing.T) {
	database := setupTestDB(t)
	a := seedDetector(t, database, "DET-A")
	b := seedDetector(t, database, "DET-B")
	c := seedDetector(t, database, "DET-C")

	err := database.InsertEdges(context.Background(), []RoadNetworkEdge{
		{FromDetectorID: a.ID, ToDetectorID: b.ID, DistanceMeters: 500},
	})
	if err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	// Exists in both directions.
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		exists, err := database.EdgeExistsBetween(context.Background(), pair[0], pair[1])
		if err != nil {
			t.Fatalf("EdgeExistsBetween: %v", err)
		}
		if !exists {
			t.Errorf("edge %s-%s not found", pair[0], pair[1])
		}
	}

	exists, err := database.EdgeExistsBetween(context.Background(), a.ID, c.ID)
	if err != nil {
		t.Fatalf("EdgeExistsBetween: %v", err)
	}
	if exists {
		t.Error("unexpected edge between unconnected detectors")
	}

	count, err := database.CountEdges(context.Background())
	if err != nil {
		t.Fatalf("CountEdges: %v", err)
	}
	if count != 1 {
		t.Errorf("CountEdges = %d, want 1", count)
	}
}

func TestInsertEdgesRejectsSelfLoop(t *testing.T) {
	database := setupTestDB(t)
	a := seedDetector(t, database, "DET-A")

	err := database.InsertEdges(context.Background(), []RoadNetworkEdge{
		{FromDetectorID: a.ID, ToDetectorID: a.ID, DistanceMeters: 0},
	})
	if err == nil {
		t.Fatal("expected error for self-loop edge")
	}
}

func TestInsertEdgesDuplicatePairRejected(t *testing.T) {
	database := setupTestDB(t)
	a := seedDetector(t, database, "DET-A")
	b := seedDetector(t, database, "DET-B")

	err := database.InsertEdges(context.Background(), []RoadNetworkEdge{
		{FromDetectorID: a.ID, ToDetectorID: b.ID, DistanceMeters: 500},
	})
	if err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	// Same pair reversed hits the normalized unique index.
	err = database.InsertEdges(context.Background(), []RoadNetworkEdge{
		{FromDetectorID: b.ID, ToDetectorID: a.ID, DistanceMeters: 500},
	})
	if err == nil {
		t.Fatal("expected unique constraint error for duplicate pair")
	}

	count, err := database.CountEdges(context.Background())
	if err != nil {
		t.Fatalf("CountEdges: %v", err)
	}
	if count != 1 {
		t.Errorf("CountEdges = %d, want 1 (failed batch rolled back)", count)
	}
}

func TestInsertEdgesEmptyBatch(t *testing.T) {
	database := setupTestDB(t)

	if err := database.InsertEdges(context.Background(), nil); err != nil {
		t.Fatalf("InsertEdges(nil): %v", err)
	}
}

func TestListEdges(t *testing.T) {
	database := setupTestDB(t)
	a := seedDetector(t, database, "DET-A")
	b := seedDetector(t, database, "DET-B")
	c := seedDetector(t, database, "DET-C")

	err := database.InsertEdges(context.Background(), []RoadNetworkEdge{
		{FromDetectorID: a.ID, ToDetectorID: b.ID, DistanceMeters: 500},
		{FromDetectorID: b.ID, ToDetectorID: c.ID, DistanceMeters: 700},
	})
	if err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	edges, err := database.ListEdges(context.Background())
	if err != nil {
		t.Fatalf("ListEdges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(edges))
	}
	for _, e := range edges {
		if e.ID == "" {
			t.Error("edge without id")
		}
		if e.DistanceMeters != 500 && e.DistanceMeters != 700 {
			t.Errorf("unexpected distance %v", e.DistanceMeters)
		}
	}
}
