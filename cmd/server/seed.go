package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"dashboard_cards/internal/store"
)

// loadSeed loads entity_id,state,updated_ts CSV exports into the recorder.
// path is a single file or a directory whose *.csv files are all loaded.
// Returns the number of readings loaded.
func loadSeed(path string, s *store.Store, logger *logrus.Logger) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("reading seed path: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		entries, err := os.ReadDir(path)
		if err != nil {
			return 0, fmt.Errorf("reading seed directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	total := 0
	for _, file := range files {
		logger.WithField("file", file).Debug("loading seed")
		f, err := os.Open(file)
		if err != nil {
			return total, fmt.Errorf("opening %s: %w", file, err)
		}
		n, err := s.LoadCSV(f)
		f.Close()
		if err != nil {
			return total, fmt.Errorf("parsing %s: %w", file, err)
		}
		total += n
	}
	return total, nil
}
