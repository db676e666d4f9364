package universe

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BRK-B", NormalizeSymbol("BRK.B"))
	assert.Equal(t, "BF-B", NormalizeSymbol(" bf.b "))
	assert.Equal(t, "AAPL", NormalizeSymbol("AAPL"))
	// already-normalized symbols are unchanged
	assert.Equal(t, "BRK-B", NormalizeSymbol(NormalizeSymbol("BRK.B")))
}

func TestNew_NormalizesOnceAndKeepsOrder(t *testing.T) {
	u, err := New([]Constituent{
		{Symbol: "MSFT", Name: "Microsoft", Sector: "Information Technology"},
		{Symbol: "BRK.B", Name: "Berkshire Hathaway", Sector: "Financials"},
		{Symbol: "brk.b", Name: "dup"},
		{Symbol: "  "},
		{Symbol: "XYZ"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"MSFT", "BRK-B", "XYZ"}, u.Symbols())
	assert.Equal(t, 3, u.Len())
	assert.Equal(t, "Berkshire Hathaway", u.Info("BRK-B").Name)

	xyz := u.Info("XYZ")
	assert.Equal(t, "XYZ", xyz.Name)
	assert.Equal(t, UnknownSector, xyz.Sector)

	missing := u.Info("NOPE")
	assert.Equal(t, "NOPE", missing.Name)
	assert.Equal(t, UnknownSector, missing.Sector)
}

func TestNew_EmptyUniverse(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrEmptyUniverse)

	_, err = New([]Constituent{{Symbol: " "}})
	assert.ErrorIs(t, err, ErrEmptyUniverse)
}

func TestSymbols_ReturnsCopy(t *testing.T) {
	u, err := New([]Constituent{{Symbol: "AAA"}})
	require.NoError(t, err)

	s := u.Symbols()
	s[0] = "ZZZ"
	assert.Equal(t, []string{"AAA"}, u.Symbols())
}

func TestParseCSV_HeaderDriven(t *testing.T) {
	in := "Sector,Ticker,Name\nEnergy,XOM,ExxonMobil\nUtilities,NEE\n"
	rows, err := ParseCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Constituent{Symbol: "XOM", Name: "ExxonMobil", Sector: "Energy"}, rows[0])
	assert.Equal(t, "", rows[1].Name)

	_, err = ParseCSV(strings.NewReader("Name,Sector\nfoo,bar\n"))
	assert.Error(t, err)
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sp.csv")
	require.NoError(t, os.WriteFile(path, []byte("Symbol,Security,GICS Sector\nBF.B,Brown-Forman,Consumer Staples\n"), 0644))

	u, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"BF-B"}, u.Symbols())
	assert.Equal(t, "Consumer Staples", u.Info("BF-B").Sector)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	u, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 504, u.Len())
	assert.Equal(t, "Financials", u.Info("BRK-B").Sector)
	assert.Equal(t, "Consumer Staples", u.Info("BF-B").Sector)
	assert.NotContains(t, u.Symbols(), "BRK.B")
	assert.NotContains(t, u.Symbols(), "BF.B")

	// every row is a distinct share class
	rows, err := ParseCSV(bytes.NewReader(defaultConstituents))
	require.NoError(t, err)
	assert.Equal(t, len(rows), u.Len())
	for _, sym := range u.Symbols() {
		assert.NotEqual(t, UnknownSector, u.Info(sym).Sector, sym)
	}
}
