package performance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ternarybob/jcx/internal/models"
)

var csvHeader = []string{
	"recorded_at",
	"strategy",
	"server",
	"count",
	"successes",
	"failures",
	"workers",
	"chunk_size",
	"elapsed_seconds",
	"throughput_per_second",
	"success_rate",
}

// WriteCSV exports samples in the order given
func WriteCSV(w io.Writer, samples []models.BenchmarkSample) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, s := range samples {
		row := []string{
			s.RecordedAt.UTC().Format(time.RFC3339),
			string(s.Strategy),
			s.Server,
			strconv.Itoa(s.Count),
			strconv.Itoa(s.Successes),
			strconv.Itoa(s.Failures),
			strconv.Itoa(s.Workers),
			strconv.Itoa(s.ChunkSize),
			strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
			strconv.FormatFloat(s.Throughput(), 'f', 3, 64),
			strconv.FormatFloat(s.SuccessRate(), 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}
	return nil
}

// WriteCSV exports the monitor's history
func (m *Monitor) WriteCSV(w io.Writer) error {
	return WriteCSV(w, m.Samples())
}
