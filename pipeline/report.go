package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/otodombot/models"
)

// ReportWriter appends run summaries to a durable report.
type ReportWriter interface {
	Write(result models.RunResult) error
	Close() error
}

// NewReportWriter picks the report format from the file extension: .csv
// writes CSV, anything else newline-delimited JSON.
func NewReportWriter(filename string) (ReportWriter, error) {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return NewCSVReport(filename)
	}
	return NewJSONReport(filename)
}

var csvReportHeader = []string{"run_id", "start_time", "end_time", "candidates", "created", "updated", "skipped", "dropped", "failed", "notified", "failed_urls"}

// CSVReport writes one CSV row per run.
type CSVReport struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVReport opens filename for appending and writes the header row when
// the file is new.
func NewCSVReport(filename string) (*CSVReport, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv report: %w", err)
	}

	writer := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := writer.Write(csvReportHeader); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush csv header: %w", err)
		}
	}

	return &CSVReport{file: f, writer: writer}, nil
}

// Write appends result as a CSV row.
func (cr *CSVReport) Write(result models.RunResult) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	record := []string{
		result.RunID,
		result.StartTime.Format(time.RFC3339),
		result.EndTime.Format(time.RFC3339),
		strconv.Itoa(result.Candidates),
		strconv.Itoa(result.Created),
		strconv.Itoa(result.Updated),
		strconv.Itoa(result.Skipped),
		strconv.Itoa(result.Dropped),
		strconv.Itoa(result.Failed),
		strconv.Itoa(result.Notified),
		strings.Join(result.FailedURLs, " "),
	}
	if err := cr.writer.Write(record); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}
	cr.writer.Flush()
	if err := cr.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cr *CSVReport) Close() error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	cr.writer.Flush()
	if err := cr.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cr.file.Close()
}

// JSONReport writes newline-delimited JSON run summaries.
type JSONReport struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONReport opens filename for appending.
func NewJSONReport(filename string) (*JSONReport, error) {
	f, err := openAppend(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(f)
	return &JSONReport{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

type jsonRunRecord struct {
	RunID        string         `json:"run_id"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Candidates   int            `json:"candidates"`
	Created      int            `json:"created"`
	Updated      int            `json:"updated"`
	Skipped      int            `json:"skipped"`
	Dropped      int            `json:"dropped"`
	Failed       int            `json:"failed"`
	Notified     int            `json:"notified"`
	FailedURLs   []string       `json:"failed_urls,omitempty"`
	ErrorsByType map[string]int `json:"errors_by_type,omitempty"`
}

// Write appends result as one JSON line.
func (jr *JSONReport) Write(result models.RunResult) error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	record := jsonRunRecord{
		RunID:        result.RunID,
		StartTime:    result.StartTime,
		EndTime:      result.EndTime,
		Candidates:   result.Candidates,
		Created:      result.Created,
		Updated:      result.Updated,
		Skipped:      result.Skipped,
		Dropped:      result.Dropped,
		Failed:       result.Failed,
		Notified:     result.Notified,
		FailedURLs:   result.FailedURLs,
		ErrorsByType: result.ErrorsByType,
	}
	if err := jr.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode json record: %w", err)
	}
	if err := jr.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jr *JSONReport) Close() error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	if err := jr.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jr.file.Close()
}

func openAppend(filename string) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	return f, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
