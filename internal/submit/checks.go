package submit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fpang/seetrue/internal/classify"
)

// Check inspects a non-empty payload before it is transmitted.
// A failing check returns a validation error.
type Check func(p classify.Payload) error

// DefaultRequiredColumns are the eye-tracking columns the service needs.
var DefaultRequiredColumns = []string{
	"Timestamp",
	"Gazepoint X",
	"Gazepoint Y",
	"Pupil area (right) sq mm",
	"Pupil area (left) sq mm",
	"Eye event",
}

// AllowedExtensions rejects named payloads whose extension is not listed.
// Payloads without a name are let through.
func AllowedExtensions(exts ...string) Check {
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}
	return func(p classify.Payload) error {
		if p.Name == "" || len(allowed) == 0 {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p.Name))
		if !allowed[ext] {
			return classify.Validation(fmt.Sprintf("file %q has unsupported extension %q", p.Name, ext))
		}
		return nil
	}
}

// RequiredColumns checks the CSV header row for the named columns.
// Header cells are compared after trimming surrounding whitespace.
// Semicolon-delimited files are detected from the header line.
func RequiredColumns(cols ...string) Check {
	return func(p classify.Payload) error {
		if len(cols) == 0 {
			return nil
		}
		header, err := readHeader(p.Data)
		if err != nil {
			return classify.Validation(fmt.Sprintf("file is not a readable CSV: %v", err))
		}

		present := make(map[string]bool, len(header))
		for _, h := range header {
			present[strings.TrimSpace(h)] = true
		}
		var missing []string
		for _, c := range cols {
			if !present[c] {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			return classify.Validation("missing required columns: " + strings.Join(missing, ", "))
		}
		return nil
	}
}

func readHeader(data []byte) ([]string, error) {
	return NewCSVReader(data).Read()
}

// NewCSVReader returns a reader over data with any UTF-8 byte order mark
// removed. A header line using ';' and no ',' selects ';' as the separator.
func NewCSVReader(data []byte) *csv.Reader {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}

	r := csv.NewReader(bytes.NewReader(data))
	if bytes.Contains(firstLine, []byte(";")) && !bytes.Contains(firstLine, []byte(",")) {
		r.Comma = ';'
	}
	r.FieldsPerRecord = -1
	return r
}
