package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/pkg/types"
)

// CSVColumnMapping locates the OHLCV fields in a CSV row.
type CSVColumnMapping struct {
	TimestampCol int
	OpenCol      int
	HighCol      int
	LowCol       int
	CloseCol     int
	VolumeCol    int
	MinColumns   int
	DateFormat   string
}

// DefaultCSVFormat is the layout written by WriteCSV:
// timestamp,open,high,low,close,volume
var DefaultCSVFormat = CSVColumnMapping{
	TimestampCol: 0,
	OpenCol:      1,
	HighCol:      2,
	LowCol:       3,
	CloseCol:     4,
	VolumeCol:    5,
	MinColumns:   6,
	DateFormat:   "2006-01-02 15:04:05",
}

// ReadReport counts what ReadCSV did with the input.
type ReadReport struct {
	Rows    int
	Skipped int
}

// ReadCSV parses bars after a header row. Rows that are short, unparsable
// or not a consistent candle are skipped and counted. Timestamps are UTC.
func ReadCSV(r io.Reader, format CSVColumnMapping) ([]types.OHLCV, ReadReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var report ReadReport
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, report, nil
		}
		return nil, report, fmt.Errorf("read csv header: %w", err)
	}

	var bars []types.OHLCV
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, report, fmt.Errorf("error reading CSV at line %d: %w", line, err)
		}
		report.Rows++

		bar, ok := parseRow(record, format)
		if !ok {
			report.Skipped++
			continue
		}
		if n := len(bars); n > 0 && !bar.Timestamp.After(bars[n-1].Timestamp) {
			report.Skipped++
			continue
		}
		bars = append(bars, bar)
	}
	return bars, report, nil
}

func parseRow(record []string, format CSVColumnMapping) (types.OHLCV, bool) {
	if len(record) < format.MinColumns {
		return types.OHLCV{}, false
	}

	ts, err := time.ParseInLocation(format.DateFormat, record[format.TimestampCol], time.UTC)
	if err != nil {
		return types.OHLCV{}, false
	}

	var fields [5]float64
	cols := [5]int{format.OpenCol, format.HighCol, format.LowCol, format.CloseCol, format.VolumeCol}
	for i, col := range cols {
		v, err := strconv.ParseFloat(record[col], 64)
		if err != nil {
			return types.OHLCV{}, false
		}
		fields[i] = v
	}

	bar := types.OHLCV{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return types.OHLCV{}, false
	}
	if bar.High < bar.Open || bar.High < bar.Close || bar.Low > bar.Open || bar.Low > bar.Close {
		return types.OHLCV{}, false
	}
	return bar, true
}

// LoadCSV reads a bar file in the default layout.
func LoadCSV(path string) ([]types.OHLCV, ReadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ReadReport{}, err
	}
	defer f.Close()
	return ReadCSV(f, DefaultCSVFormat)
}

// WriteCSV writes bars in the default layout, header first.
func WriteCSV(w io.Writer, bars []types.OHLCV) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}

	for _, b := range bars {
		record := []string{
			b.Timestamp.UTC().Format(DefaultCSVFormat.DateFormat),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveCSV writes bars to path, creating parent directories.
func SaveCSV(path string, bars []types.OHLCV) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, bars); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
