package domain

import "testing"

func TestLatestSuccess_SkipsUnarchivedBuilds(t *testing.T) {
	folded := Fold([]BuildRecord{
		{BuildNumber: 1, Environment: "test", Result: ResultSuccess, Archived: true},
		{BuildNumber: 2, Environment: "test", Result: ResultSuccess},
		{BuildNumber: 3, Environment: "test", Result: ResultFailed},
		{BuildNumber: 4, Environment: "test", Result: ResultPending},
	})

	got, ok := LatestSuccess(folded, "test", 4)
	if !ok || got.BuildNumber != 1 {
		t.Fatalf("expected build 1, got %d (found=%v)", got.BuildNumber, ok)
	}

	if _, ok := LatestSuccess(folded, "test", 1); ok {
		t.Fatal("no candidate expected below build 1")
	}
}
