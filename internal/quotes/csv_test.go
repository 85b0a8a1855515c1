package quotes

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "marketpulse/internal/errors"
	"marketpulse/internal/models"
)

const sampleCSV = `date,open,high,low,close,adj_close,volume,foreign_net,trust_net
2024-01-17,103,106,102,105,105,3000,200,-50
2024-01-15,100,104,99,103,103,1000,500,100
2024-01-16,103,105,101,102,102,2000,-300,0
2024-02-01,110,112,108,111,111,4000,0,0
`

func writeQuoteFile(t *testing.T, symbol, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644))
	return dir
}

func day(s string) time.Time {
	d, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCSVProviderFiltersAndSorts(t *testing.T) {
	dir := writeQuoteFile(t, "AAPL", sampleCSV)
	p := NewCSVProvider(dir)

	bars, err := p.DailyBars(context.Background(), "AAPL", day("2024-01-15"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	// Rows come back oldest first regardless of file order
	assert.Equal(t, day("2024-01-15"), bars[0].Date)
	assert.Equal(t, day("2024-01-16"), bars[1].Date)
	assert.Equal(t, day("2024-01-17"), bars[2].Date)

	assert.Equal(t, 103.0, bars[0].Close)
	assert.Equal(t, int64(500), bars[0].ForeignNet)
	assert.Equal(t, int64(100), bars[0].TrustNet)
	assert.Equal(t, int64(-300), bars[1].ForeignNet)
}

func TestCSVProviderRangeIsInclusive(t *testing.T) {
	dir := writeQuoteFile(t, "AAPL", sampleCSV)
	p := NewCSVProvider(dir)

	bars, err := p.DailyBars(context.Background(), "AAPL", day("2024-01-16"), day("2024-01-16"))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 102.0, bars[0].Close)
}

func TestCSVProviderMissingFile(t *testing.T) {
	p := NewCSVProvider(t.TempDir())

	_, err := p.DailyBars(context.Background(), "MSFT", day("2024-01-01"), day("2024-01-31"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCSVProviderEmptySymbol(t *testing.T) {
	p := NewCSVProvider(t.TempDir())

	_, err := p.DailyBars(context.Background(), "", day("2024-01-01"), day("2024-01-31"))
	var domainErr *apperrors.DomainError
	assert.ErrorAs(t, err, &domainErr)
}

func TestCSVProviderBadDate(t *testing.T) {
	dir := writeQuoteFile(t, "AAPL", "date,open,high,low,close,adj_close,volume,foreign_net,trust_net\nnot-a-date,1,1,1,1,1,1,0,0\n")
	p := NewCSVProvider(dir)

	_, err := p.DailyBars(context.Background(), "AAPL", day("2024-01-01"), day("2024-12-31"))
	var domainErr *apperrors.DomainError
	assert.ErrorAs(t, err, &domainErr)
}
