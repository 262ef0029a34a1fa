package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "risa.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sampleDoc = `{
  "numberOfProjections": 4000,
  "numberOfDetectorModules": 24,
  "modules": [
    {"name": "det-0", "planes": 4, "gain": 1.5},
    {"name": "det-1", "planes": 4, "gain": 1.75}
  ],
  "planeIDs": [0, 1, 2, 3]
}`

func TestValueScalar(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	n, err := Value[int](r, "numberOfProjections")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if n != 4000 {
		t.Fatalf("numberOfProjections = %d, want 4000", n)
	}
}

func TestValueMissingKey(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Value[int](r, "doesNotExist"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

type module struct {
	Name   string  `json:"name"`
	Planes int     `json:"planes"`
	Gain   float64 `json:"gain"`
}

func TestElementInList(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gain, err := ElementInList[float64](r, "modules", "gain", "name", "det-1")
	if err != nil {
		t.Fatalf("ElementInList: %v", err)
	}
	if gain != 1.75 {
		t.Fatalf("gain = %v, want 1.75", gain)
	}
}

func TestElementInListNoMatch(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := ElementInList[float64](r, "modules", "gain", "name", "det-9"); err == nil {
		t.Fatal("expected error for no matching entry")
	}
}

func TestListOfStructs(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mods, err := ListOf[module](r, "modules")
	if err != nil {
		t.Fatalf("ListOf: %v", err)
	}
	if len(mods) != 2 || mods[0].Name != "det-0" || mods[1].Planes != 4 {
		t.Fatalf("unexpected modules: %+v", mods)
	}
}

func TestListOfScalars(t *testing.T) {
	r, err := Load(writeTemp(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ids, err := ListOf[int](r, "planeIDs")
	if err != nil {
		t.Fatalf("ListOf: %v", err)
	}
	want := []int{0, 1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}
