package IO

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestIDShardRoundTrip(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "ctx")
	rows := [][]int{{1, 2, 3}, {}, {70000, 4}}
	if err := WriteIDs(prefix, rows); err != nil {
		t.Fatalf("WriteIDs: %v", err)
	}
	got, err := ReadIDs(prefix)
	if err != nil {
		t.Fatalf("ReadIDs: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("got %v, want %v", got, rows)
	}
}

func TestReadIDsRejectsTruncatedIndex(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "ctx")
	if err := WriteIDs(prefix, [][]int{{1, 2}}); err != nil {
		t.Fatalf("WriteIDs: %v", err)
	}
	if err := os.WriteFile(prefix+".bin", []byte{1, 0, 0, 0}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadIDs(prefix); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestDatasetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Dataset{
		Train: Split{Contexts: [][]int{{1, 2}, {3}}, Responses: [][]int{{4}, {5, 6}}, Labels: []int{1, 0}},
		Val:   Split{Contexts: [][]int{{7}}, Responses: [][]int{{8}}, Labels: []int{1}},
		Test:  Split{Contexts: [][]int{{9}}, Responses: [][]int{{1}}, Labels: []int{0}},
	}
	for name, s := range map[string]Split{"train": want.Train, "val": want.Val, "test": want.Test} {
		if err := ExportSplit(dir, name, s); err != nil {
			t.Fatalf("ExportSplit %s: %v", name, err)
		}
	}
	got, err := ImportDataset(dir)
	if err != nil {
		t.Fatalf("ImportDataset: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestImportDatasetMissingSplit(t *testing.T) {
	dir := t.TempDir()
	s := Split{Contexts: [][]int{{1}}, Responses: [][]int{{2}}, Labels: []int{1}}
	if err := ExportSplit(dir, "train", s); err != nil {
		t.Fatal(err)
	}
	if _, err := ImportDataset(dir); err == nil {
		t.Fatalf("expected error for missing val split")
	}
}
