package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"aqualedger/native/accounts"
)

// AccountSource iterates over every stored account.
type AccountSource interface {
	ForEachAccount(ctx context.Context, fn func(*accounts.Account) error) error
}

// Row is one participant line of the impact report.
type Row struct {
	Participant          string
	Balance              uint64
	EventsCompleted      uint64
	TotalActivityMinutes uint64
	TotalWasteUnits      uint64
	AchievementsUnlocked uint64
	TotalEarned          uint64
	TotalSpent           uint64
	UpdatedAt            time.Time
}

// Collect reads every account from src, sorted by participant.
func Collect(ctx context.Context, src AccountSource) ([]*Row, error) {
	var rows []*Row
	err := src.ForEachAccount(ctx, func(acc *accounts.Account) error {
		rows = append(rows, &Row{
			Participant:          acc.Participant,
			Balance:              acc.Balance,
			EventsCompleted:      acc.EventsCompleted,
			TotalActivityMinutes: acc.TotalActivityMinutes,
			TotalWasteUnits:      acc.TotalWasteUnits,
			AchievementsUnlocked: acc.AchievementsUnlocked,
			TotalEarned:          acc.TotalEarned,
			TotalSpent:           acc.TotalSpent,
			UpdatedAt:            acc.UpdatedAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("report: collect accounts: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Participant < rows[j].Participant })
	return rows, nil
}

// Export collects the accounts from src and writes <name>.csv and
// <name>.parquet into dir.
func Export(ctx context.Context, src AccountSource, dir, name string) (string, string, int, error) {
	rows, err := Collect(ctx, src)
	if err != nil {
		return "", "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", 0, fmt.Errorf("report: create dir: %w", err)
	}
	csvPath := filepath.Join(dir, name+".csv")
	if err := WriteCSV(csvPath, rows); err != nil {
		return "", "", 0, err
	}
	parquetPath := filepath.Join(dir, name+".parquet")
	if err := WriteParquet(parquetPath, rows); err != nil {
		os.Remove(csvPath)
		return "", "", 0, err
	}
	return csvPath, parquetPath, len(rows), nil
}

var csvHeader = []string{
	"participant", "balance", "events_completed", "total_activity_minutes", "total_waste_units",
	"achievements_unlocked", "total_earned", "total_spent", "updated_at",
}

// WriteCSV writes rows to path. A partially written file is removed on error.
func WriteCSV(path string, rows []*Row) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: close csv: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Participant,
			strconv.FormatUint(row.Balance, 10),
			strconv.FormatUint(row.EventsCompleted, 10),
			strconv.FormatUint(row.TotalActivityMinutes, 10),
			strconv.FormatUint(row.TotalWasteUnits, 10),
			strconv.FormatUint(row.AchievementsUnlocked, 10),
			strconv.FormatUint(row.TotalEarned, 10),
			strconv.FormatUint(row.TotalSpent, 10),
			formatTime(row.UpdatedAt),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Participant          string `parquet:"name=participant, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Balance              int64  `parquet:"name=balance, type=INT64"`
	EventsCompleted      int64  `parquet:"name=events_completed, type=INT64"`
	TotalActivityMinutes int64  `parquet:"name=total_activity_minutes, type=INT64"`
	TotalWasteUnits      int64  `parquet:"name=total_waste_units, type=INT64"`
	AchievementsUnlocked int64  `parquet:"name=achievements_unlocked, type=INT64"`
	TotalEarned          int64  `parquet:"name=total_earned, type=INT64"`
	TotalSpent           int64  `parquet:"name=total_spent, type=INT64"`
	UpdatedAt            string `parquet:"name=updated_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// WriteParquet writes rows to path as a snappy-compressed parquet file. A
// partially written file is removed on error.
func WriteParquet(path string, rows []*Row) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: close parquet: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		pr := &parquetRow{
			Participant:          row.Participant,
			Balance:              clampInt64(row.Balance),
			EventsCompleted:      clampInt64(row.EventsCompleted),
			TotalActivityMinutes: clampInt64(row.TotalActivityMinutes),
			TotalWasteUnits:      clampInt64(row.TotalWasteUnits),
			AchievementsUnlocked: clampInt64(row.AchievementsUnlocked),
			TotalEarned:          clampInt64(row.TotalEarned),
			TotalSpent:           clampInt64(row.TotalSpent),
			UpdatedAt:            formatTime(row.UpdatedAt),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			return fmt.Errorf("report: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("report: finalize parquet: %w", err)
	}
	return nil
}

// Parquet INT64 columns are signed; counters beyond MaxInt64 saturate.
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
