package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRaceTalliesOutcomes(t *testing.T) {
	var mu sync.Mutex
	won := false
	book := func(_ context.Context, _ bookRequest) string {
		mu.Lock()
		defer mu.Unlock()
		if won {
			return "slot_unavailable"
		}
		won = true
		return "booked"
	}

	tally := race(context.Background(), book, make([]bookRequest, 8))
	if tally["booked"] != 1 || tally["slot_unavailable"] != 7 {
		t.Fatalf("unexpected tally %v", tally)
	}
	if got := tally.String(); got != "booked=1\nslot_unavailable=7\n" {
		t.Fatalf("unexpected report %q", got)
	}
}

func TestHTTPOutcome(t *testing.T) {
	if got := httpOutcome(http.StatusCreated, strings.NewReader(`{}`)); got != "booked" {
		t.Fatalf("got %s", got)
	}
	if got := httpOutcome(http.StatusConflict, strings.NewReader(`{"error":"slot_unavailable","retry":"requery_availability"}`)); got != "slot_unavailable" {
		t.Fatalf("got %s", got)
	}
	if got := httpOutcome(http.StatusBadGateway, strings.NewReader(`<html>`)); got != "http_502" {
		t.Fatalf("got %s", got)
	}
}

func TestGRPCOutcome(t *testing.T) {
	if got := grpcOutcome(status.Error(codes.Aborted, "slot_unavailable: requested slot is not available")); got != "slot_unavailable" {
		t.Fatalf("got %s", got)
	}
	if got := grpcOutcome(status.Error(codes.Internal, "internal error")); got != "grpc_internal" {
		t.Fatalf("got %s", got)
	}
	if got := grpcOutcome(errors.New("dial failed")); got != "grpc_unknown" {
		t.Fatalf("got %s", got)
	}
}

func TestSplitIDs(t *testing.T) {
	got := splitIDs(" p1, ,p2,")
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Fatalf("unexpected ids %v", got)
	}
}
