package utils

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxSpreadsheetRows limits the number of rows rendered per sheet. Lab
// export workbooks can run to tens of thousands of calibration rows that
// add nothing for inference.
const MaxSpreadsheetRows = 500

// ExtractSpreadsheetText renders an uploaded .xlsx workbook as plain text
// for inference. Each sheet is labelled, rows become pipe-separated lines
// and empty rows are skipped.
func ExtractSpreadsheetText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheetNames := f.GetSheetList()
	if len(sheetNames) == 0 {
		return "", fmt.Errorf("no sheets found in workbook")
	}

	var textBuilder strings.Builder

	for _, sheet := range sheetNames {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet '%s': %w", sheet, err)
		}

		rendered := 0
		var sheetBuilder strings.Builder

		for _, row := range rows {
			if isEmptyRow(row) {
				continue
			}
			if rendered >= MaxSpreadsheetRows {
				sheetBuilder.WriteString("... [Remaining rows truncated]\n")
				break
			}

			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = strings.TrimSpace(cell)
			}
			sheetBuilder.WriteString(strings.Join(cells, " | "))
			sheetBuilder.WriteString("\n")
			rendered++
		}

		if sheetBuilder.Len() == 0 {
			continue
		}

		if textBuilder.Len() > 0 {
			textBuilder.WriteString("\n")
		}
		textBuilder.WriteString(fmt.Sprintf("[Sheet: %s]\n", sheet))
		textBuilder.WriteString(sheetBuilder.String())

		if textBuilder.Len() > MaxExtractedTextSize {
			break
		}
	}

	extractedText := strings.TrimSpace(textBuilder.String())
	if len(extractedText) > MaxExtractedTextSize {
		extractedText = extractedText[:MaxExtractedTextSize] + "\n... [Content truncated]"
	}

	return extractedText, nil
}

// isEmptyRow checks if all cells in a row are empty
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
