package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/airsusp/internal/engine"
)

// Store persists runs under a base directory: metadata.json plus
// snapshots.csv per run.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Preset    string             `json:"preset,omitempty"`
	Profile   string             `json:"profile"`
	Dt        float64            `json:"dt"`
	Duration  float64            `json:"duration"`
	Steps     uint64             `json:"steps"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Recorder collects snapshots during a run for later persistence.
type Recorder struct {
	Snapshots []*engine.Snapshot
}

func (r *Recorder) OnSnapshot(s *engine.Snapshot) {
	r.Snapshots = append(r.Snapshots, s)
}

var chassisColumns = []string{"heave", "roll", "pitch", "heave_rate", "roll_rate", "pitch_rate"}

func header(snaps []*engine.Snapshot) []string {
	h := append([]string{"time"}, chassisColumns...)
	for _, c := range snaps[0].Chambers {
		h = append(h, "p_"+c.Label)
	}
	h = append(h, "faults")
	return h
}

func (s *Store) Save(meta RunMetadata, snaps []*engine.Snapshot) (string, error) {
	if len(snaps) == 0 {
		return "", fmt.Errorf("nothing to save")
	}
	runID := fmt.Sprintf("%s_%d", meta.Profile, time.Now().Unix())
	meta.ID = runID
	meta.Timestamp = time.Now()
	meta.Steps = snaps[len(snaps)-1].Step

	runDir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()
	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "snapshots.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if err := w.Write(header(snaps)); err != nil {
		return "", err
	}
	for _, snap := range snaps {
		row := make([]string, 0, 1+len(chassisColumns)+engine.NumChambers+1)
		row = append(row, strconv.FormatFloat(snap.Time, 'f', 6, 64))
		for _, v := range snap.Chassis {
			row = append(row, strconv.FormatFloat(v, 'f', 8, 64))
		}
		for _, c := range snap.Chambers {
			row = append(row, strconv.FormatFloat(c.Pressure, 'f', 2, 64))
		}
		row = append(row, strconv.Itoa(len(snap.Faults)))
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return runID, w.Error()
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunMetadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.LoadMetadata(e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) LoadMetadata(runID string) (RunMetadata, error) {
	var meta RunMetadata
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// LoadColumn reads one named channel from a saved run.
func (s *Store) LoadColumn(runID, column string) (times, values []float64, err error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "snapshots.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("run %s has no data", runID)
	}

	col := -1
	for i, name := range rows[0] {
		if name == column {
			col = i
		}
	}
	if col < 0 {
		return nil, nil, fmt.Errorf("unknown column %q (have %v)", column, rows[0])
	}

	for _, row := range rows[1:] {
		t, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, nil, err
		}
		v, err := strconv.ParseFloat(row[col], 64)
		if err != nil {
			return nil, nil, err
		}
		times = append(times, t)
		values = append(values, v)
	}
	return times, values, nil
}
