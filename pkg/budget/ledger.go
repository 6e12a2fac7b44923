package budget

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steward-ai/steward/pkg/models"
)

// Ledger is the append-only NDJSON cost log. One JSON object per line;
// timestamps are strictly monotonic within a process so replay order
// matches append order even under clock adjustments.
type Ledger struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	lastTS time.Time
	now    func() time.Time
}

// OpenLedger opens (creating if needed) the ledger file for appending.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}
	return &Ledger{path: path, file: file, now: time.Now}, nil
}

// Append stamps the event and writes it as one NDJSON line. The stamp is
// bumped by a microsecond when the clock has not advanced past the
// previous event.
func (l *Ledger) Append(event *models.CostEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if !ts.After(l.lastTS) {
		ts = l.lastTS.Add(time.Microsecond)
	}
	l.lastTS = ts
	event.Timestamp = ts

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal cost event: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append cost event: %w", err)
	}
	return nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Replay reads every event from the ledger file in append order.
// Malformed lines are skipped with a warning rather than failing the
// whole read, so a torn final write never blocks startup.
func Replay(path string) ([]models.CostEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open cost ledger: %w", err)
	}
	defer file.Close()

	var events []models.CostEvent
	skipped := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event models.CostEvent
		if err := json.Unmarshal(line, &event); err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cost ledger: %w", err)
	}
	if skipped > 0 {
		slog.Warn("Skipped malformed cost ledger lines", "path", path, "skipped", skipped)
	}
	return events, nil
}
