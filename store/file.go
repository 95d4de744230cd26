package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ledger_scanner/models"

	"github.com/shopspring/decimal"
)

type record struct {
	ID     int64       `json:"id"`
	Vol    json.Number `json:"vol"`
	Fee    json.Number `json:"fee"`
	Trades int64       `json:"trades"`
	TS     int64       `json:"ts"`
}

// FileSink writes the snapshot as one indented JSON object keyed by address.
// Identical snapshots produce identical bytes.
type FileSink struct {
	path         string
	volumePlaces int32
	feePlaces    int32
	mu           sync.Mutex
}

func NewFileSink(path string, volumePlaces, feePlaces int32) *FileSink {
	return &FileSink{path: path, volumePlaces: volumePlaces, feePlaces: feePlaces}
}

func (f *FileSink) Name() string { return "file" }

func (f *FileSink) Path() string { return f.path }

func (f *FileSink) Write(_ context.Context, snapshot map[string]models.AccountStats) error {
	data, err := f.Encode(snapshot)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	// Write to temp file first for atomic operation
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp results file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save results file: %w", err)
	}
	return nil
}

// Encode renders the snapshot exactly as Write stores it.
func (f *FileSink) Encode(snapshot map[string]models.AccountStats) ([]byte, error) {
	out := make(map[string]record, len(snapshot))
	for addr, s := range snapshot {
		out[addr] = record{
			ID:     s.AccountID,
			Vol:    json.Number(s.TotalVolume.StringFixed(f.volumePlaces)),
			Fee:    json.Number(s.TotalFee.StringFixed(f.feePlaces)),
			Trades: s.TradeCount,
			TS:     s.LastUpdated.Unix(),
		}
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return append(data, '\n'), nil
}

// SetAside renames an unreadable results file out of the way so the next
// Write cannot overwrite it. It returns the new path.
func (f *FileSink) SetAside(now time.Time) (string, error) {
	moved := fmt.Sprintf("%s.unreadable-%s", f.path, now.UTC().Format("20060102T150405"))
	if err := os.Rename(f.path, moved); err != nil {
		return "", fmt.Errorf("failed to set aside results file: %w", err)
	}
	return moved, nil
}

// Load reads a snapshot written by Write. A missing file is an empty snapshot.
func (f *FileSink) Load() (map[string]models.AccountStats, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.AccountStats{}, nil
		}
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var records map[string]record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse results file: %w", err)
	}

	out := make(map[string]models.AccountStats, len(records))
	for addr, r := range records {
		vol, err := decimal.NewFromString(r.Vol.String())
		if err != nil {
			return nil, fmt.Errorf("bad volume for %s: %w", addr, err)
		}
		fee, err := decimal.NewFromString(r.Fee.String())
		if err != nil {
			return nil, fmt.Errorf("bad fee for %s: %w", addr, err)
		}
		out[addr] = models.AccountStats{
			AccountID:   r.ID,
			TotalVolume: vol,
			TotalFee:    fee,
			TradeCount:  r.Trades,
			LastUpdated: time.Unix(r.TS, 0).UTC(),
		}
	}
	return out, nil
}
