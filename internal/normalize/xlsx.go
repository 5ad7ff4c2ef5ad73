package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXlsx renders every worksheet in workbook order as "Sheet: <name>"
// followed by up to maxRows tab-separated rows. Rows are padded to the sheet
// width so columns stay aligned.
func extractXlsx(content []byte, maxRows int) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		fmt.Fprintf(&sb, "Sheet: %s\n", sheet)

		rows, err := readRows(f, sheet, maxRows)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", sheet, err)
		}

		width := sheetWidth(f, sheet)
		for _, row := range rows {
			if len(row) > width {
				width = len(row)
			}
		}
		for _, row := range rows {
			for len(row) < width {
				row = append(row, "")
			}
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// readRows returns the first maxRows rows of a sheet, including empty rows
// that fall between populated ones.
func readRows(f *excelize.File, sheet string, maxRows int) ([][]string, error) {
	it, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows [][]string
	for len(rows) < maxRows && it.Next() {
		cols, err := it.Columns()
		if err != nil {
			return nil, err
		}
		rows = append(rows, cols)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return rows, nil
}

// sheetWidth reads the column count from the sheet's dimension ref, e.g.
// "A1:D20" is 4 wide. Returns 0 when the workbook carries no dimension.
func sheetWidth(f *excelize.File, sheet string) int {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return 0
	}
	end := dim
	if i := strings.LastIndex(dim, ":"); i >= 0 {
		end = dim[i+1:]
	}
	col, _, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return 0
	}
	return col
}
