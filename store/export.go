package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ExportJSON returns the full contact list as indented JSON.
func (s *Store) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.contacts, "", "  ")
}

var csvHeader = []string{"ID", "Name", "Email", "Phone", "Company", "Address", "Notes", "Created"}

// ExportCSV returns the full contact list as CSV with a header row.
func (s *Store) ExportCSV() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, c := range s.contacts {
		row := []string{
			strconv.Itoa(c.ID),
			c.Name,
			c.Email,
			c.Phone,
			c.Company,
			c.Address,
			c.Notes,
			c.CreatedAt.Format(time.DateTime),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export dispatches on format name. Only "json" and "csv" exist.
func (s *Store) Export(format string) ([]byte, error) {
	switch format {
	case "json":
		return s.ExportJSON()
	case "csv":
		return s.ExportCSV()
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
