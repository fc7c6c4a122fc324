package textextract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/esg-extract/internal/model"
)

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// SpreadsheetExtractor serializes the first worksheet to a JSON array of
// row objects keyed by the header row.
type SpreadsheetExtractor struct{}

// NewSpreadsheetExtractor creates a SpreadsheetExtractor.
func NewSpreadsheetExtractor() *SpreadsheetExtractor {
	return &SpreadsheetExtractor{}
}

// Extract opens the workbook and serializes its first sheet.
func (e *SpreadsheetExtractor) Extract(ctx context.Context, data []byte) (model.ExtractedText, error) {
	if bytes.HasPrefix(data, oleMagic) {
		return model.ExtractedText{}, model.NewCodedError(model.CodeCorruptInput,
			"legacy binary .xls workbooks cannot be read; save the file as .xlsx")
	}

	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return model.ExtractedText{}, model.WrapCoded(err, model.CodeCorruptInput, "open workbook")
	}

	return sheetText(ctx, f)
}

func sheetText(ctx context.Context, f *xlsx.File) (model.ExtractedText, error) {
	if len(f.Sheets) == 0 {
		return model.ExtractedText{}, model.NewCodedError(model.CodeNoSheets, "workbook has no sheets")
	}
	sheet := f.Sheets[0]

	rows, err := sheetRows(ctx, sheet)
	if err != nil {
		return model.ExtractedText{}, err
	}
	if len(rows) == 0 {
		return model.ExtractedText{}, model.NewCodedError(model.CodeNoTextContent,
			fmt.Sprintf("sheet %q has no data rows", sheet.Name))
	}

	b, err := json.Marshal(rows)
	if err != nil {
		return model.ExtractedText{}, model.WrapCoded(err, model.CodeInternal, "serialize rows")
	}

	zap.L().Debug("spreadsheet: sheet serialized",
		zap.String("sheet", sheet.Name),
		zap.Int("sheets", len(f.Sheets)),
		zap.Int("rows", len(rows)),
	)

	return model.ExtractedText{Text: string(b), Format: model.SourceSpreadsheet, Rows: len(rows)}, nil
}

// sheetRows treats the first non-blank row as the header and returns one
// object per following non-blank row. Blank cells are omitted from rows.
func sheetRows(ctx context.Context, sheet *xlsx.Sheet) ([]orderedRow, error) {
	var (
		header []string
		out    []orderedRow
	)
	for _, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if row == nil || rowBlank(row) {
			continue
		}
		if header == nil {
			header = headerKeys(row)
			continue
		}

		obj := orderedRow{}
		for j, cell := range row.Cells {
			if cell == nil || strings.TrimSpace(cell.String()) == "" {
				continue
			}
			obj.set(keyAt(header, j), cellValue(cell))
		}
		out = append(out, obj)
	}
	return out, nil
}

// headerKeys names columns from the header row. Blank headers become
// __EMPTY, __EMPTY_1, ... and repeated names get a numeric suffix.
func headerKeys(row *xlsx.Row) []string {
	seen := make(map[string]int)
	keys := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		name := ""
		if cell != nil {
			name = strings.TrimSpace(cell.String())
		}
		if name == "" {
			name = "__EMPTY"
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 0
		}
		keys[j] = name
	}
	return keys
}

func keyAt(header []string, j int) string {
	if j < len(header) {
		return header[j]
	}
	return fmt.Sprintf("__EMPTY_%d", j)
}

func rowBlank(row *xlsx.Row) bool {
	for _, cell := range row.Cells {
		if cell != nil && strings.TrimSpace(cell.String()) != "" {
			return false
		}
	}
	return true
}

func cellValue(cell *xlsx.Cell) any {
	switch cell.Type() {
	case xlsx.CellTypeNumeric:
		if f, err := cell.Float(); err == nil {
			return f
		}
	case xlsx.CellTypeBool:
		return cell.Bool()
	}
	return cell.String()
}

// orderedRow marshals as a JSON object with keys in column order.
type orderedRow struct {
	keys   []string
	values map[string]any
}

func (r *orderedRow) set(k string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[k]; !ok {
		r.keys = append(r.keys, k)
	}
	r.values[k] = v
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
