package tle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// minLine1 is the shortest line 1 that still carries the epoch field.
const minLine1 = 32

// Parse reads element sets in the three-line form (name, line 1, line 2) or
// the bare two-line form. A "0 " prefix on the name line is dropped. Sets
// that cannot be parsed are logged and skipped; only read errors fail.
func Parse(r io.Reader, logger *slog.Logger) ([]TLEEntry, error) {
	var (
		entries []TLEEntry
		name    string
		line1   string
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r ")
		switch {
		case line == "":
		case strings.HasPrefix(line, "1 "):
			if line1 != "" {
				logger.Warn("skipping element set without line 2", "line", lineNo-1, "name", name)
			}
			line1 = line
		case strings.HasPrefix(line, "2 "):
			if line1 == "" {
				logger.Warn("skipping line 2 without line 1", "line", lineNo, "name", name)
			} else if e, err := newEntry(name, line1, line); err != nil {
				logger.Warn("skipping malformed element set", "line", lineNo, "name", name, "error", err)
			} else {
				entries = append(entries, e)
			}
			name, line1 = "", ""
		default:
			if line1 != "" {
				logger.Warn("skipping element set without line 2", "line", lineNo-1, "name", name)
				line1 = ""
			}
			name = strings.TrimSpace(strings.TrimPrefix(line, "0 "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}
	return entries, nil
}

func newEntry(name, line1, line2 string) (TLEEntry, error) {
	if len(line1) < minLine1 {
		return TLEEntry{}, fmt.Errorf("line 1 has %d columns, need %d", len(line1), minLine1)
	}
	id, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return TLEEntry{}, fmt.Errorf("catalog number %q: %w", line1[2:7], err)
	}
	if len(line2) < 7 || strings.TrimSpace(line2[2:7]) != strings.TrimSpace(line1[2:7]) {
		return TLEEntry{}, errors.New("line 2 catalog number does not match line 1")
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return TLEEntry{}, err
	}
	if name == "" {
		name = fmt.Sprintf("NORAD %d", id)
	}
	return TLEEntry{NORADID: id, Name: name, Epoch: epoch, Line1: line1, Line2: line2}, nil
}

// parseEpoch reads the YYDDD.DDDDDDDD epoch field. Two-digit years pivot at
// 57: 57-99 are 1957-1999 and 00-56 are 2000-2056. Day 1 is January 1.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %w", s[2:], err)
	}

	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}
