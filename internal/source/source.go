// Package source loads the units a run translates: tables from a directory
// of JSON files and question/answer pairs bound to their context tables.
package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/valpere/tabletran/internal/unit"
)

const qaSuffix = "_qa"

// LoadTables reads every *.json file in dir as a table. The file stem is the
// unit id. Units come back sorted by id.
func LoadTables(dir string) ([]*unit.Unit, error) {
	paths, err := jsonFiles(dir)
	if err != nil {
		return nil, err
	}

	units := make([]*unit.Unit, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read table: %w", err)
		}
		u, err := unit.ParseTable(stem(path), data)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", filepath.Base(path), err)
		}
		if err := u.Validate(); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// QAID is the unit id of the n-th (zero-based) pair of a table.
func QAID(tableID string, n int) string {
	return fmt.Sprintf("%s%s%03d", tableID, qaSuffix, n+1)
}

// LoadQA reads <table>_qa.json lists from qaDir and binds each pair to
// <table>.json in tablesDir. Files whose context table is missing are
// skipped with a warning.
func LoadQA(qaDir, tablesDir string, logger *slog.Logger) ([]*unit.Unit, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	paths, err := jsonFiles(qaDir)
	if err != nil {
		return nil, err
	}

	var units []*unit.Unit
	for _, path := range paths {
		tableID := strings.TrimSuffix(stem(path), qaSuffix)

		tableData, err := os.ReadFile(filepath.Join(tablesDir, tableID+".json"))
		if err != nil {
			logger.Warn("context table not found, skipping QA file",
				"file", filepath.Base(path), "table", tableID, "error", err)
			continue
		}
		table, err := unit.ParseTable(tableID, tableData)
		if err != nil {
			logger.Warn("context table unreadable, skipping QA file",
				"file", filepath.Base(path), "table", tableID, "error", err)
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read QA file: %w", err)
		}
		pairs, err := unit.ParseQAList(data, func(i int) string { return QAID(tableID, i) })
		if err != nil {
			return nil, fmt.Errorf("qa %s: %w", filepath.Base(path), err)
		}
		for _, p := range pairs {
			if err := p.Validate(); err != nil {
				logger.Warn("skipping empty QA pair", "unit", p.ID)
				continue
			}
			p.Context = table
			units = append(units, p)
		}
	}
	return units, nil
}

func jsonFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
