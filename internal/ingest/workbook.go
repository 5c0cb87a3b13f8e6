package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// Column headers of the incident export.
const (
	ColID          = "INC"
	ColShortDesc   = "Short Desc"
	ColCreatedDate = "Created Date"
	ColUpdatedDate = "Updated Date"
	ColAssignee    = "Assignee"
	ColGroup       = "Group"
	ColCreatedBy   = "Created By"
	ColUpdatedBy   = "Updated By"
)

// Workbook is the parsed first sheet of an incident export.
type Workbook struct {
	Sheet   string
	Records []models.IncidentRecord
	// Skipped counts rows without a usable incident ID.
	Skipped int
}

// ReadWorkbook parses the first sheet of an .xlsx export. Header matching ignores case and
// surrounding whitespace. Rows with a blank or "nan" ID are skipped.
func ReadWorkbook(path string) (Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Workbook{}, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Workbook{}, fmt.Errorf("workbook %s has no sheets", path)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Workbook{}, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return Workbook{Sheet: sheet}, nil
	}

	cols := headerIndex(rows[0])
	if _, ok := cols[normalizeHeader(ColID)]; !ok {
		return Workbook{}, fmt.Errorf("sheet %s has no %q column", sheet, ColID)
	}

	wb := Workbook{Sheet: sheet}
	for _, row := range rows[1:] {
		cell := func(name string) string {
			idx, ok := cols[normalizeHeader(name)]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		id := normalizeID(cell(ColID))
		if id == "" {
			wb.Skipped++
			continue
		}
		wb.Records = append(wb.Records, models.IncidentRecord{
			ID:               id,
			ShortDescription: cleanText(cell(ColShortDesc)),
			CreatedAt:        parseCellTime(cell(ColCreatedDate)),
			UpdatedAt:        parseCellTime(cell(ColUpdatedDate)),
			Assignee:         cleanText(cell(ColAssignee)),
			Group:            cleanText(cell(ColGroup)),
			CreatedBy:        cleanText(cell(ColCreatedBy)),
			UpdatedBy:        cleanText(cell(ColUpdatedBy)),
		})
	}
	return wb, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// normalizeID drops spreadsheet artefacts: empty cells, pandas "nan" and float-formatted integers.
func normalizeID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "nan") {
		return ""
	}
	if strings.HasSuffix(v, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(v, ".0")); err == nil {
			return strings.TrimSuffix(v, ".0")
		}
	}
	return v
}

func cleanText(v string) string {
	if strings.EqualFold(v, "nan") {
		return ""
	}
	return v
}

// parseCellTime accepts formatted timestamps and raw Excel serial dates. Unparseable values yield zero.
func parseCellTime(v string) time.Time {
	if v == "" || strings.EqualFold(v, "nan") {
		return time.Time{}
	}
	if t, err := utils.ParseTimestamp(v); err == nil {
		return t
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
