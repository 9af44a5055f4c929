package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/mike-a-ellis/issue-search/internal/issue"
)

// Required CSV columns. Other columns are ignored, except an optional "state".
const (
	ColumnTitle = "title"
	ColumnBody  = "body"
	ColumnLabel = "label"
	ColumnURL   = "url"
	ColumnState = "state"
)

var requiredColumns = []string{ColumnTitle, ColumnBody, ColumnLabel, ColumnURL}

// ErrMissingColumns rejects a whole CSV source.
var ErrMissingColumns = errors.New("missing required columns")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads issues from a CSV source with a header row.
//
// A source missing any required column is rejected with ErrMissingColumns.
// Rows that cannot be parsed, or lack a title or url, are skipped and counted
// in the report: Accepted + Rejected equals the number of data rows.
func ParseCSV(name string, r io.Reader) ([]issue.Issue, Report, error) {
	var report Report

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, report, fmt.Errorf("read %s: %w", name, err)
	}
	data, err := decodeText(raw)
	if err != nil {
		return nil, report, fmt.Errorf("decode %s: %w", name, err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, report, fmt.Errorf("%s: %w: %s", name, ErrMissingColumns, strings.Join(requiredColumns, ", "))
	}
	if err != nil {
		return nil, report, fmt.Errorf("read header of %s: %w", name, err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, report, fmt.Errorf("%s: %w: %s", name, ErrMissingColumns, strings.Join(missing, ", "))
	}

	var issues []issue.Issue
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				report.Reject(1, "%s row %d: malformed: %v", name, row, parseErr.Err)
				continue
			}
			return issues, report, fmt.Errorf("read %s: %w", name, err)
		}

		iss, err := rowToIssue(record, columns)
		if err != nil {
			report.Reject(1, "%s row %d: %v", name, row, err)
			continue
		}
		issues = append(issues, iss)
		report.Accepted++
	}

	return issues, report, nil
}

func rowToIssue(record []string, columns map[string]int) (issue.Issue, error) {
	field := func(name string) (string, bool) {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	for _, c := range requiredColumns {
		if _, ok := field(c); !ok {
			return issue.Issue{}, fmt.Errorf("malformed: expected %d fields, got %d", len(columns), len(record))
		}
	}

	title, _ := field(ColumnTitle)
	if title == "" {
		return issue.Issue{}, errors.New("missing title")
	}
	url, _ := field(ColumnURL)
	if url == "" {
		return issue.Issue{}, errors.New("missing url")
	}
	body, _ := field(ColumnBody)
	labels, _ := field(ColumnLabel)

	state, _ := field(ColumnState)
	state = strings.ToLower(state)

	iss := issue.Issue{
		ID:       issue.IDFromURL(url),
		Title:    title,
		Body:     body,
		Labels:   issue.ParseLabels(labels),
		State:    state,
		Metadata: map[string]any{"url": url},
	}
	if err := iss.Validate(); err != nil {
		return issue.Issue{}, err
	}
	return iss, nil
}

// decodeText returns UTF-8 text, falling back to Latin-1 when raw is not valid UTF-8.
func decodeText(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(raw)
}

// LoadDir parses every *.csv file in dir, in name order.
// A rejected file is recorded in the report and the remaining files still load.
func LoadDir(dir string) ([]issue.Issue, Report, error) {
	var report Report

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, report, fmt.Errorf("list CSV files in %s: %w", dir, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, report, fmt.Errorf("open CSV directory: %w", err)
	}
	sort.Strings(paths)

	var issues []issue.Issue
	for _, path := range paths {
		fileIssues, fileReport, err := loadFile(path)
		report.Merge(fileReport)
		if err != nil {
			report.Fail("%v", err)
			continue
		}
		issues = append(issues, fileIssues...)
	}
	return issues, report, nil
}

func loadFile(path string) ([]issue.Issue, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, err
	}
	defer f.Close()
	return ParseCSV(filepath.Base(path), f)
}
