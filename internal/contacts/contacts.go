// Package contacts loads the rows a campaign sends to.
package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Contact is one target row. Row is the 1-based data row index in the
// source file and is the key campaign progress is tracked by.
type Contact struct {
	Row       int
	Phone     string
	Variables map[string]string
}

// Source loads contact rows. The spreadsheet-shaped implementations live
// outside the engine; CSV ships in-tree so the binary works standalone.
type Source interface {
	Load(path string) ([]Contact, error)
}

// CSV reads a header-first CSV file. Header names become template variable
// keys (normalized downstream); a "phone" or "number" column is required.
type CSV struct{}

func (CSV) Load(path string) ([]Contact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows happen in operator-edited files
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, errors.New("contact file is empty")
	}

	header := rows[0]
	phoneCol := -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "phone", "number", "telefone":
			if phoneCol < 0 {
				phoneCol = i
			}
		}
	}
	if phoneCol < 0 {
		return nil, errors.New("contact file has no phone column")
	}

	out := make([]Contact, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) <= phoneCol {
			continue
		}
		phone := strings.TrimSpace(row[phoneCol])
		if phone == "" {
			continue
		}
		vars := make(map[string]string, len(header))
		for j, h := range header {
			if j < len(row) {
				vars[strings.TrimSpace(h)] = strings.TrimSpace(row[j])
			}
		}
		out = append(out, Contact{Row: i + 1, Phone: phone, Variables: vars})
	}
	return out, nil
}
