package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	WalletsFile   = "wallets.json"
	TransfersFile = "transfers.json"
)

// WriteDataset serializes the dataset into wallets.json and transfers.json under dir.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, WalletsFile), dataset.Wallets); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, TransfersFile), dataset.Transfers)
}

// ReadDataset loads a dataset previously written by WriteDataset.
func ReadDataset(dir string) (Dataset, error) {
	var ds Dataset
	if err := readJSON(filepath.Join(dir, WalletsFile), &ds.Wallets); err != nil {
		return Dataset{}, err
	}
	if err := readJSON(filepath.Join(dir, TransfersFile), &ds.Transfers); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, dst any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
