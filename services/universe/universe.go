package universe

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gap_strategy_backend/models"
)

// UnknownSector is reported for symbols without metadata
const UnknownSector = "Unknown"

// ErrEmptyUniverse is returned when no usable symbols were supplied
var ErrEmptyUniverse = errors.New("symbol universe is empty")

//go:embed constituents.csv
var defaultConstituents []byte

// Constituent is one raw row from a symbol provider, before normalization
type Constituent struct {
	Symbol string
	Name   string
	Sector string
}

// Universe is the immutable, normalized set of symbols to scan
type Universe struct {
	symbols   []string
	companies map[string]models.CompanyInfo
}

// NormalizeSymbol rewrites share-class separators to the provider form (BRK.B -> BRK-B)
func NormalizeSymbol(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), ".", "-")
}

// New normalizes constituents once, drops blanks and duplicates, and keeps input order
func New(rows []Constituent) (*Universe, error) {
	u := &Universe{companies: make(map[string]models.CompanyInfo, len(rows))}
	for _, r := range rows {
		sym := NormalizeSymbol(r.Symbol)
		if sym == "" {
			continue
		}
		if _, dup := u.companies[sym]; dup {
			continue
		}
		info := models.CompanyInfo{Name: strings.TrimSpace(r.Name), Sector: strings.TrimSpace(r.Sector)}
		if info.Name == "" {
			info.Name = sym
		}
		if info.Sector == "" {
			info.Sector = UnknownSector
		}
		u.symbols = append(u.symbols, sym)
		u.companies[sym] = info
	}

	if len(u.symbols) == 0 {
		return nil, ErrEmptyUniverse
	}
	return u, nil
}

// Symbols returns a copy of the ordered symbol list
func (u *Universe) Symbols() []string {
	out := make([]string, len(u.symbols))
	copy(out, u.symbols)
	return out
}

// Len returns the number of symbols
func (u *Universe) Len() int {
	return len(u.symbols)
}

// Info returns company metadata, falling back to the symbol itself and an unknown sector
func (u *Universe) Info(symbol string) models.CompanyInfo {
	if info, ok := u.companies[symbol]; ok {
		return info
	}
	return models.CompanyInfo{Name: symbol, Sector: UnknownSector}
}

// Default returns the embedded constituent table
func Default() (*Universe, error) {
	rows, err := ParseCSV(bytes.NewReader(defaultConstituents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded constituents: %w", err)
	}
	return New(rows)
}

// LoadCSV reads a Symbol,Security,GICS Sector table from path
func LoadCSV(path string) (*Universe, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file %s: %w", path, err)
	}
	defer file.Close()

	rows, err := ParseCSV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse universe file %s: %w", path, err)
	}
	return New(rows)
}

// ParseCSV reads constituents from r. The header row locates the
// Symbol, Security/Name and Sector columns; only Symbol is required.
func ParseCSV(r io.Reader) ([]Constituent, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	symCol, nameCol, sectorCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "symbol", "ticker":
			symCol = i
		case "security", "name", "company":
			nameCol = i
		case "gics sector", "sector":
			sectorCol = i
		}
	}
	if symCol < 0 {
		return nil, fmt.Errorf("header has no Symbol column: %v", header)
	}

	var rows []Constituent
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, Constituent{
			Symbol: field(record, symCol),
			Name:   field(record, nameCol),
			Sector: field(record, sectorCol),
		})
	}
	return rows, nil
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}
