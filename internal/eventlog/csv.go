package eventlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CSVSink writes entries to a CSV file, flushing after every row.
type CSVSink struct {
	path string
	file *os.File
	w    *csv.Writer
}

// CSVPath returns the file an identity is logged to inside dir.
func CSVPath(dir string, id Identity) string {
	return filepath.Join(dir, id.String()+".csv")
}

// OpenCSV creates or truncates the identity's file and writes the header.
func OpenCSV(dir string, id Identity) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := CSVPath(dir, id)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log %s: %w", path, err)
	}

	s := &CSVSink{path: path, file: file, w: csv.NewWriter(file)}
	if err := s.write(Header); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the file being written.
func (s *CSVSink) Path() string {
	return s.path
}

// Append writes one row.
func (s *CSVSink) Append(e Entry) error {
	return s.write([]string{
		strconv.FormatInt(e.Clock, 10),
		strconv.FormatInt(e.WallClock.Unix(), 10),
		string(e.Event),
		strconv.Itoa(e.QueueLen),
	})
}

func (s *CSVSink) write(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ReadCSVRows returns every row of a log file, header included.
func ReadCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}

// ReadCSV parses a log file into entries.
func ReadCSV(path string) ([]Entry, error) {
	rows, err := ReadCSVRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || !slices.Equal(rows[0], Header) {
		return nil, fmt.Errorf("%s: missing header row", path)
	}

	entries := make([]Entry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		e, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseRow(row []string) (Entry, error) {
	clk, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("logical clock: %w", err)
	}
	wall, err := strconv.ParseInt(row[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("global time: %w", err)
	}
	event, err := ParseEventType(row[2])
	if err != nil {
		return Entry{}, err
	}
	qlen, err := strconv.Atoi(row[3])
	if err != nil {
		return Entry{}, fmt.Errorf("queue length: %w", err)
	}
	return Entry{Clock: clk, WallClock: time.Unix(wall, 0), Event: event, QueueLen: qlen}, nil
}

// ListCSV finds every log in dir and recovers its identity from the name.
func ListCSV(dir string) (map[Identity]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "pid_*_clockrate_*.csv"))
	if err != nil {
		return nil, err
	}

	logs := make(map[Identity]string, len(matches))
	for _, path := range matches {
		name := strings.TrimSuffix(filepath.Base(path), ".csv")
		name = strings.TrimPrefix(name, "pid_")
		sep := strings.LastIndex(name, "_clockrate_")
		if sep < 0 {
			continue
		}
		rate, err := strconv.Atoi(name[sep+len("_clockrate_"):])
		if err != nil {
			continue
		}
		logs[Identity{ProcessID: name[:sep], ClockRate: rate}] = path
	}
	return logs, nil
}
