package cleanup

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ScratchResource is one temporary file or directory created mid-operation
// and owed a removal. Entries are owned by the process that registered
// them but any cooperating process may clean them up.
type ScratchResource struct {
	Path         string
	OwningPID    int
	RegisteredAt time.Time
}

// The registry is line-oriented so a partial write from a crashed process
// corrupts at most one line: pid, unix timestamp, and path separated by
// tabs. Unreadable lines are skipped, never fatal.
func formatRecord(r ScratchResource) string {
	return fmt.Sprintf("%d\t%d\t%s\n", r.OwningPID, r.RegisteredAt.Unix(), r.Path)
}

func parseRecord(line string) (ScratchResource, bool) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 {
		return ScratchResource{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || pid <= 0 {
		return ScratchResource{}, false
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return ScratchResource{}, false
	}
	path := fields[2]
	if path == "" || !strings.HasPrefix(path, "/") {
		return ScratchResource{}, false
	}
	return ScratchResource{Path: path, OwningPID: pid, RegisteredAt: time.Unix(ts, 0)}, true
}

// appendRecord adds one entry to the registry file. A single O_APPEND
// write keeps concurrent registrations from interleaving mid-line.
func appendRecord(registryPath string, r ScratchResource) error {
	f, err := os.OpenFile(registryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open scratch registry: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatRecord(r)); err != nil {
		return fmt.Errorf("append scratch record: %w", err)
	}
	return nil
}

// readRecords loads every parseable entry, counting the lines it had to
// skip. A missing registry is an empty one.
func readRecords(registryPath string) ([]ScratchResource, int, error) {
	f, err := os.Open(registryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open scratch registry: %w", err)
	}
	defer f.Close()

	var (
		records []ScratchResource
		skipped int
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, ok := parseRecord(line)
		if !ok {
			skipped++
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, fmt.Errorf("read scratch registry: %w", err)
	}
	return records, skipped, nil
}

// writeRecords atomically replaces the registry contents.
func writeRecords(registryPath string, records []ScratchResource) error {
	var builder strings.Builder
	for _, record := range records {
		builder.WriteString(formatRecord(record))
	}

	tmp := registryPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("write scratch registry: %w", err)
	}
	if err := os.Rename(tmp, registryPath); err != nil {
		return fmt.Errorf("replace scratch registry: %w", err)
	}
	return nil
}
