package chart

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptobot/internal/history"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func testSamples() []history.Sample {
	fast, slow := 101.5, 100.75
	ts := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	return []history.Sample{
		{Timestamp: ts, Price: 100},
		{Timestamp: ts.Add(5 * time.Minute), Price: 102.25, SMAFast: &fast},
		{Timestamp: ts.Add(10 * time.Minute), Price: 101, SMAFast: &fast, SMASlow: &slow},
	}
}

func TestWriteRendersPNG(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "charts")
	writer, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, writer.Write("ETH/USD", testSamples()))

	path := writer.Path("ETH/USD")
	assert.Equal(t, filepath.Join(dir, "chart-eth-usd-sma.png"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	_, err = os.Stat(writer.CSVPath("ETH/USD"))
	assert.True(t, os.IsNotExist(err), "csv is opt-in")
}

func TestWriteSinglePointBeforeWarmUp(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, writer.Write("BTC", []history.Sample{{Timestamp: ts, Price: 1}}))
	data, err := os.ReadFile(writer.Path("BTC"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestWriteEmptyIsNoop(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, writer.Write("BTC", nil))
	_, err = os.Stat(writer.Path("BTC"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteWithCSV(t *testing.T) {
	writer, err := NewWriter(t.TempDir(), WithCSV())
	require.NoError(t, err)
	require.NoError(t, writer.Write("ETH/USD", testSamples()))

	data, err := os.ReadFile(writer.CSVPath("ETH/USD"))
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"timestamp", "price", "sma_fast", "sma_slow"}, rows[0])
	assert.Equal(t, []string{"2024-03-01 12:05", "100", "", ""}, rows[1])
	assert.Equal(t, "101.500000", rows[2][2])

	parsed, err := ParseTime(rows[1][0])
	require.NoError(t, err)
	assert.True(t, parsed.Equal(testSamples()[0].Timestamp))
}
