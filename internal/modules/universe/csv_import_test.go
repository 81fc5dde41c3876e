package universe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Open,High,Low,Close,Volume,symbol,company_name,sector,industry,date
180.1,182.5,179.8,181.2,1000000,aapl,Apple Inc,Technology,Consumer Electronics,2024-05-30
181.3,183.0,180.9,182.7,1100000,aapl,Apple Inc,Technology,Consumer Electronics,2024-05-31
not-a-number,183.0,180.9,182.7,1100000,aapl,Apple Inc,Technology,Consumer Electronics,2024-06-01
182.8,184.1,182.0,183.9,900000,aapl,Apple Inc,Technology,Consumer Electronics,2024-06-03
`

func TestImportFile(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()
	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	secRepo := NewSecurityRepository(db.Conn(), zerolog.Nop())

	dir := t.TempDir()
	path := filepath.Join(dir, "aapl.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0644))

	importer := NewCSVImporter(barRepo, secRepo, zerolog.Nop())
	n, err := importer.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "malformed row skipped, valid rows kept")

	bars, err := barRepo.GetBars(ctx, "AAPL",
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, 181.2, bars[0].Close)

	meta, err := secRepo.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc", meta.Name)
	assert.Equal(t, "Technology", meta.Sector)
}

func TestImportFileMissingColumn(t *testing.T) {
	db := testHistoryDB(t)
	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	secRepo := NewSecurityRepository(db.Conn(), zerolog.Nop())

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("Open,High,Low,Close\n1,2,3,4\n"), 0644))

	importer := NewCSVImporter(barRepo, secRepo, zerolog.Nop())
	_, err := importer.ImportFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestImportDirAggregates(t *testing.T) {
	db := testHistoryDB(t)
	ctx := context.Background()
	barRepo := NewBarRepository(db.Conn(), zerolog.Nop())
	secRepo := NewSecurityRepository(db.Conn(), zerolog.Nop())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aapl.csv"), []byte(sampleCSV), 0644))
	// An unreadable file is logged and skipped, not fatal
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.csv"), []byte(""), 0644))

	importer := NewCSVImporter(barRepo, secRepo, zerolog.Nop())
	n, err := importer.ImportDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
