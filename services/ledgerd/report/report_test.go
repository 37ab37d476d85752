package report

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"aqualedger/native/accounts"
)

type sliceSource []*accounts.Account

func (s sliceSource) ForEachAccount(_ context.Context, fn func(*accounts.Account) error) error {
	for _, acc := range s {
		if err := fn(acc); err != nil {
			return err
		}
	}
	return nil
}

type brokenSource struct{}

func (brokenSource) ForEachAccount(context.Context, func(*accounts.Account) error) error {
	return errors.New("disk gone")
}

func sampleAccounts() sliceSource {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return sliceSource{
		{Participant: "0x2222222222222222222222222222222222222222", Balance: 1755, EventsCompleted: 1,
			TotalActivityMinutes: 180, TotalWasteUnits: 5000, AchievementsUnlocked: 1, TotalEarned: 1855, TotalSpent: 100, UpdatedAt: at},
		{Participant: "0x1111111111111111111111111111111111111111", Balance: 25, TotalEarned: 25, UpdatedAt: at},
	}
}

func TestExportWritesCSVAndParquet(t *testing.T) {
	dir := t.TempDir()
	csvPath, parquetPath, n, err := Export(context.Background(), sampleAccounts(), dir, "impact")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "0x1111111111111111111111111111111111111111", records[1][0], "rows sorted by participant")
	require.Equal(t, "1755", records[2][1])
	require.Equal(t, "2025-06-01T09:30:00Z", records[2][8])

	fr, err := local.NewLocalFileReader(parquetPath)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.EqualValues(t, 2, pr.GetNumRows())
	rows := make([]parquetRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "0x1111111111111111111111111111111111111111", rows[0].Participant)
	require.Equal(t, "0x2222222222222222222222222222222222222222", rows[1].Participant)
	require.Equal(t, int64(1855), rows[1].TotalEarned)
	require.Equal(t, int64(100), rows[1].TotalSpent)
	require.Equal(t, "2025-06-01T09:30:00Z", rows[1].UpdatedAt)
}

func TestExportRemovesPartialFilesOnFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory squatting on the parquet path makes the second write fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "impact.parquet"), 0o755))

	_, _, _, err := Export(context.Background(), sampleAccounts(), dir, "impact")
	require.ErrorContains(t, err, "report: create parquet")
	_, statErr := os.Stat(filepath.Join(dir, "impact.csv"))
	require.True(t, os.IsNotExist(statErr), "csv must not outlive a failed export")
}

func TestWriteCSVRejectsMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "impact.csv")
	require.ErrorContains(t, WriteCSV(path, nil), "report: create csv")
}

func TestCollectPropagatesSourceErrors(t *testing.T) {
	_, err := Collect(context.Background(), brokenSource{})
	require.ErrorContains(t, err, "disk gone")
}

func TestClampInt64(t *testing.T) {
	require.Equal(t, int64(7), clampInt64(7))
	require.Equal(t, int64(9223372036854775807), clampInt64(^uint64(0)))
}
