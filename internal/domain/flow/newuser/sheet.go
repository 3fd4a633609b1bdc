package newuser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html/charset"

	"github.com/prezlab/nasma/backend/internal/shared/types"
	"github.com/prezlab/nasma/backend/internal/shared/utils"
)

var (
	ErrEmptySheet   = errors.New("Excel file is empty")
	ErrNoHeaders    = errors.New("No recognized headers found in the first row")
	ErrNoRows       = errors.New("No data rows found below header")
	ErrSheetFormat  = errors.New("unsupported sheet format, upload an .xlsx or .csv file")
	ErrSheetTooBig  = fmt.Errorf("sheet exceeds %d bytes", utils.MaxSheetSize)
	errUnreadableWB = errors.New("could not open workbook")
)

// Column maps an onboarding form header to an employee field.
type Column struct {
	Header string
	Field  string
	Label  string
}

// Columns lists the recognised headers in display order.
var Columns = []Column{
	{"Email Address", "work_email", "Email Address"},
	{"First and last name as per your passport (in English)", "name", "Name"},
	{"Date of birth", "birthday", "Date of birth"},
	{"Personal phone number", "private_phone", "Personal phone number"},
	{"Home Address", "private_street", "Home Address"},
	{"Current Address", "x_studio_work_location_country", "Current Address"},
	{"Attach a copy of your passport", "x_studio_passport", "Passport"},
	{"Attach your national ID", "x_studio_national_id_1", "National ID"},
	{"Attach your non-criminal certificate", "x_studio_non_criminal_certificate", "Non-criminal certificate"},
	{"What is the position you are hired for?", "job_id", "Position"},
	{"Bank account No.", "bank_account_id", "Bank account No."},
	{"Attach your COVID Vaccination Certificate", "x_studio_covid_vaccination", "COVID Vaccination Certificate"},
	{"Emergency Contact Relationship", "x_studio_contact_1_relation", "Emergency Contact Relationship"},
	{"Marital Status", "marital", "Marital Status"},
	{"Religion", "x_studio_religion", "Religion"},
	{"Emergency contact first and last name", "emergency_contact", "Emergency contact"},
	{"Emergency contact number", "emergency_phone", "Emergency contact number"},
	{"First and last name as per your passport (in Arabic)", "x_studio_employee_arabic_name", "Arabic name"},
	{"Attach your most updated CV", "x_studio_cv", "CV"},
}

var attachmentFields = map[string]bool{
	"x_studio_passport":                 true,
	"x_studio_national_id_1":            true,
	"x_studio_non_criminal_certificate": true,
	"x_studio_covid_vaccination":        true,
	"x_studio_cv":                       true,
}

var birthdayLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "01-02-06", "2 Jan 2006", "January 2, 2006", "Jan 2, 2006"}

// ParseSheet reads an xlsx or csv onboarding sheet. The first row holds
// the headers; unrecognised columns are ignored and blank rows skipped.
func ParseSheet(data []byte) ([]types.NewUserRecord, error) {
	if len(data) == 0 {
		return nil, ErrEmptySheet
	}
	if len(data) > utils.MaxSheetSize {
		return nil, ErrSheetTooBig
	}

	var (
		rows [][]string
		err  error
	)
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet") || mt.Is("application/zip"):
		rows, err = xlsxRows(data)
	case strings.HasPrefix(mt.String(), "text/csv") || strings.HasPrefix(mt.String(), "text/plain"):
		rows, err = csvRows(data)
	default:
		return nil, ErrSheetFormat
	}
	if err != nil {
		return nil, err
	}
	return recordsFrom(rows)
}

func xlsxRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreadableWB, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// csvRows decodes legacy encodings to UTF-8 before parsing.
func csvRows(data []byte) ([][]string, error) {
	label := "utf-8"
	if !utf8.Valid(data) {
		if result, err := chardet.NewTextDetector().DetectBest(data); err == nil && result != nil {
			label = strings.ToLower(result.Charset)
		}
	}

	var r io.Reader = bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if label != "utf-8" {
		if decoded, err := charset.NewReaderLabel(label, r); err == nil {
			r = decoded
		}
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return rows, nil
}

func recordsFrom(rows [][]string) ([]types.NewUserRecord, error) {
	if len(rows) == 0 {
		return nil, ErrEmptySheet
	}

	byHeader := make(map[string]string, len(Columns))
	for _, c := range Columns {
		byHeader[c.Header] = c.Field
	}
	fields := make(map[int]string)
	for i, h := range rows[0] {
		if field, ok := byHeader[strings.TrimSpace(h)]; ok {
			fields[i] = field
		}
	}
	if len(fields) == 0 {
		return nil, ErrNoHeaders
	}

	var out []types.NewUserRecord
	for _, row := range rows[1:] {
		rec := types.NewUserRecord{Fields: make(map[string]string)}
		for i, cell := range row {
			field, ok := fields[i]
			value := strings.TrimSpace(cell)
			if !ok || value == "" {
				continue
			}
			if field == "birthday" {
				value = normalizeBirthday(value)
			}
			rec.Fields[field] = value
		}
		if len(rec.Fields) > 0 {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out, nil
}

func normalizeBirthday(value string) string {
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return value
}

// displayValue hides attachment links and all but the last four digits
// of bank accounts.
func displayValue(field, value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case attachmentFields[field]:
		return "Attached"
	case field == "bank_account_id":
		var digits []rune
		for _, r := range value {
			if r >= '0' && r <= '9' {
				digits = append(digits, r)
			}
		}
		if len(digits) >= 4 {
			return "•••• " + string(digits[len(digits)-4:])
		}
	}
	return value
}
