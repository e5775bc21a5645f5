// Package importer converts raw spreadsheet rows into validated student
// records. Normalize is pure: given the same worksheet and clock it always
// produces the same records or the same rejection.
package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/al-shafii/registry-api/internal/models"
)

// Required Arabic column headers. Matching is by exact text after trimming;
// column order in the file does not matter.
var RequiredHeaders = []string{
	"الاسم الكامل",
	"الجنس",
	"تاريخ الميلاد",
	"المستوى الدراسي",
	"اسم الولي",
	"رقم الهاتف 1",
	"رقم الهاتف 2",
	"مقر السكن",
	"الحالة",
	"رقم الصفحة",
	"ملاحظات",
}

// HeaderRegistrationDate is an optional column; when present and parseable
// it overrides the creation-time registration stamp.
const HeaderRegistrationDate = "تاريخ التسجيل"

// HeaderBirthDate is the required birth-date column. The date columns are
// the only ones whose cells may arrive as numbers (spreadsheet serials);
// everything else is text.
const HeaderBirthDate = "تاريخ الميلاد"

const (
	headerFullName     = "الاسم الكامل"
	headerGender       = "الجنس"
	headerBirthDate    = HeaderBirthDate
	headerLevel        = "المستوى الدراسي"
	headerGuardianName = "اسم الولي"
	headerPhone1       = "رقم الهاتف 1"
	headerPhone2       = "رقم الهاتف 2"
	headerAddress      = "مقر السكن"
	headerStatus       = "الحالة"
	headerPageNumber   = "رقم الصفحة"
	headerNote         = "ملاحظات"
)

// Days between the spreadsheet serial epoch (1899-12-30) and the Unix
// epoch. The 1899-12-30 base also absorbs the format's historical 1900
// leap-year quirk.
const serialEpochOffsetDays = 25569

// ErrEmptyFile rejects a worksheet without a header row plus at least one
// data row.
var ErrEmptyFile = fmt.Errorf("file is empty or contains no data rows")

// ErrNoValidRecords rejects a worksheet whose data rows were all skipped.
var ErrNoValidRecords = fmt.Errorf("no valid records found in file")

// MissingHeadersError aborts the whole import before any row is read.
type MissingHeadersError struct {
	Headers []string
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("incompatible file, missing columns: %s", strings.Join(e.Headers, ", "))
}

// RowError describes one row whose birth date could not be parsed.
type RowError struct {
	RowNumber int
	FullName  string
	Message   string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %s", e.RowNumber, e.FullName, e.Message)
}

// RowErrorsError rejects the file as a whole: one bad row hides even the
// valid ones. The first error is surfaced with the total count.
type RowErrorsError struct {
	Errors []RowError
}

func (e *RowErrorsError) Error() string {
	first := e.Errors[0]
	return fmt.Sprintf("%d row(s) with problems, first: student %q - %s",
		len(e.Errors), first.FullName, first.Message)
}

// Normalize validates the worksheet (first row = headers) and converts
// every data row into a candidate student record. Derived age fields are
// computed against now. A zero RegistrationDate on a returned record means
// "stamp at creation".
func Normalize(rows [][]any, now time.Time) ([]models.Student, error) {
	if len(rows) < 2 {
		return nil, ErrEmptyFile
	}

	index := make(map[string]int, len(rows[0]))
	for i, cell := range rows[0] {
		header := strings.TrimSpace(cellString(cell))
		if header != "" {
			index[header] = i
		}
	}

	var missing []string
	for _, h := range RequiredHeaders {
		if _, ok := index[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingHeadersError{Headers: missing}
	}

	_, hasRegDate := index[HeaderRegistrationDate]

	var (
		students  []models.Student
		rowErrors []RowError
	)
	for i, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}

		fullName := strings.TrimSpace(cellString(cellAt(row, index[headerFullName])))
		if fullName == "" {
			continue
		}

		rawBirth := cellAt(row, index[headerBirthDate])
		birthDate, ok := ParseDate(rawBirth, now)
		if !ok {
			rowErrors = append(rowErrors, RowError{
				RowNumber: i + 2,
				FullName:  fullName,
				Message:   fmt.Sprintf("invalid birth date, got value %q", cellString(rawBirth)),
			})
			continue
		}

		age := models.CalculateAge(birthDate, now)
		gender, _ := models.ParseGender(strings.TrimSpace(cellString(cellAt(row, index[headerGender]))))
		status, _ := models.ParseStatus(strings.TrimSpace(cellString(cellAt(row, index[headerStatus]))))

		student := models.Student{
			FullName:     fullName,
			Gender:       gender,
			BirthDate:    birthDate,
			Age:          age,
			AgeGroup:     models.AgeGroupFor(age),
			Level:        strings.TrimSpace(cellString(cellAt(row, index[headerLevel]))),
			GuardianName: strings.TrimSpace(cellString(cellAt(row, index[headerGuardianName]))),
			Phone1:       strings.TrimSpace(cellString(cellAt(row, index[headerPhone1]))),
			Phone2:       strings.TrimSpace(cellString(cellAt(row, index[headerPhone2]))),
			Address:      strings.TrimSpace(cellString(cellAt(row, index[headerAddress]))),
			Status:       status,
			PageNumber:   cellInt(cellAt(row, index[headerPageNumber])),
			Note:         strings.TrimSpace(cellString(cellAt(row, index[headerNote]))),
		}

		if hasRegDate {
			if regDate, ok := ParseDate(cellAt(row, index[HeaderRegistrationDate]), now); ok {
				student.RegistrationDate = regDate
			}
		}

		students = append(students, student)
	}

	if len(rowErrors) > 0 {
		return nil, &RowErrorsError{Errors: rowErrors}
	}
	if len(students) == 0 {
		return nil, ErrNoValidRecords
	}
	return students, nil
}

// ParseDate resolves a heterogeneous birth-date cell. Branches are tried
// in priority order: typed date, spreadsheet serial number, delimited
// D/M/Y string, then generic calendar strings.
func ParseDate(cell any, now time.Time) (time.Time, bool) {
	switch v := cell.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case float64:
		return fromSerial(v)
	case int:
		return fromSerial(float64(v))
	case int64:
		return fromSerial(float64(v))
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false
		}
		if t, ok := fromDelimited(raw, now); ok {
			return t, true
		}
		return fromGeneric(raw)
	default:
		return time.Time{}, false
	}
}

// fromSerial converts a spreadsheet serial day count:
// date = epoch(1899-12-30) + serial days.
func fromSerial(serial float64) (time.Time, bool) {
	ms := math.Round((serial - serialEpochOffsetDays) * 86400 * 1000)
	return time.UnixMilli(int64(ms)).UTC(), true
}

// fromDelimited parses D/M/Y, D-M-Y and D.M.Y. Two-digit years pivot on
// the current two-digit year: above it resolves to the 1900s, otherwise
// the 2000s.
func fromDelimited(raw string, now time.Time) (time.Time, bool) {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) != 3 {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return time.Time{}, false
	}

	if year < 100 {
		if year > now.Year()%100 {
			year += 1900
		} else {
			year += 2000
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

var genericLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
}

func fromGeneric(raw string) (time.Time, bool) {
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func cellAt(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func cellString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func cellInt(cell any) int {
	switch v := cell.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func emptyRow(row []any) bool {
	for _, cell := range row {
		if strings.TrimSpace(cellString(cell)) != "" {
			return false
		}
	}
	return true
}
