package verify

import (
	"fmt"

	"lamportring/internal/eventlog"
)

// LoadCSVDir reads every pid_*_clockrate_*.csv log in dir.
func LoadCSVDir(dir string) ([]Log, error) {
	paths, err := eventlog.ListCSV(dir)
	if err != nil {
		return nil, err
	}
	logs := make([]Log, 0, len(paths))
	for id, path := range paths {
		entries, err := eventlog.ReadCSV(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		logs = append(logs, Log{Identity: id, Entries: entries})
	}
	return logs, nil
}

// LoadSQLite reads every node's log from store.
func LoadSQLite(store *eventlog.SQLiteStore) ([]Log, error) {
	ids, err := store.Identities()
	if err != nil {
		return nil, err
	}
	logs := make([]Log, 0, len(ids))
	for _, id := range ids {
		entries, err := store.Entries(id)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", id, err)
		}
		logs = append(logs, Log{Identity: id, Entries: entries})
	}
	return logs, nil
}
