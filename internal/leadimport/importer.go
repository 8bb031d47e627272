// Package leadimport loads Apollo-style CSV exports into the lead
// database. Files are picked up from a drop directory and moved to a
// processed directory after import, stamped with the import date.
package leadimport

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Stats summarizes an import run.
type Stats struct {
	Files      int `json:"files"`
	Total      int `json:"total"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// Add folds other into s.
func (s *Stats) Add(other Stats) {
	s.Files += other.Files
	s.Total += other.Total
	s.Imported += other.Imported
	s.Duplicates += other.Duplicates
	s.Skipped += other.Skipped
}

// Importer reads lead CSVs into the store.
type Importer struct {
	store        store.Store
	dir          string
	processedDir string
	now          func() time.Time
}

// New creates an importer over the configured drop directory.
func New(st store.Store, cfg config.ImportConfig) *Importer {
	return &Importer{
		store:        st,
		dir:          cfg.Dir,
		processedDir: cfg.ProcessedDir,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// mapRow pairs each header with the corresponding value in the row.
// Rows shorter than the header produce empty strings.
func mapRow(headers []string, row []string) map[string]string {
	result := make(map[string]string, len(headers))
	for i, h := range headers {
		if i < len(row) {
			result[h] = row[i]
		} else {
			result[h] = ""
		}
	}
	return result
}

// pick returns the first non-empty value among the aliased columns.
// Header matching is case-insensitive.
func pick(row map[string]string, aliases ...string) string {
	for _, alias := range aliases {
		for header, value := range row {
			if strings.EqualFold(strings.TrimSpace(header), alias) && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// parseRow maps one CSV row to a lead. Returns nil for rows without a
// usable email address.
func parseRow(row map[string]string, source model.LeadSource) *model.Lead {
	email := strings.ToLower(pick(row, "Email", "Email Address"))
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil
	}

	company := pick(row, "Company Name", "Company", "Organization")
	if company == "" {
		company = "Unknown"
	}

	employees := 0
	if raw := pick(row, "# Employees", "Employees", "Employee Count"); raw != "" {
		employees, _ = strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	}

	return &model.Lead{
		FirstName: pick(row, "First Name", "FirstName"),
		LastName:  pick(row, "Last Name", "LastName"),
		Email:     email,
		Company:   company,
		Industry:  pick(row, "Industry"),
		Title:     pick(row, "Title", "Job Title"),
		Source:    source,
		Status:    model.LeadStatusNew,
		Metadata: model.LeadMetadata{
			Phone:         pick(row, "Phone", "Phone Number"),
			LinkedInURL:   pick(row, "LinkedIn URL", "LinkedIn", "Person Linkedin Url"),
			Website:       pick(row, "Website", "Company Website"),
			EmployeeCount: employees,
			Location:      pick(row, "Location", "City"),
		},
	}
}

// ImportFile imports a single CSV. Duplicate emails are counted but the
// existing lead always wins, so re-importing a file is safe.
func (im *Importer) ImportFile(ctx context.Context, path string, source model.LeadSource) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "leadimport: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "leadimport: read %s", path)
	}

	stats := &Stats{Files: 1}
	if len(records) < 2 {
		return stats, nil
	}

	headers := records[0]
	leads := make([]model.Lead, 0, len(records)-1)
	for _, row := range records[1:] {
		stats.Total++
		lead := parseRow(mapRow(headers, row), source)
		if lead == nil {
			stats.Skipped++
			continue
		}
		leads = append(leads, *lead)
	}

	inserted, err := im.store.CreateLeads(ctx, leads)
	if err != nil {
		return nil, eris.Wrapf(err, "leadimport: insert leads from %s", path)
	}
	stats.Imported = inserted
	stats.Duplicates = len(leads) - inserted

	zap.L().Info("leadimport: file imported",
		zap.String("file", filepath.Base(path)),
		zap.Int("total", stats.Total),
		zap.Int("imported", stats.Imported),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// ImportAll imports every CSV in the drop directory and moves each file
// to the processed directory afterwards.
func (im *Importer) ImportAll(ctx context.Context) (*Stats, error) {
	paths, err := filepath.Glob(filepath.Join(im.dir, "*.csv"))
	if err != nil {
		return nil, eris.Wrap(err, "leadimport: scan drop directory")
	}

	total := &Stats{}
	for _, path := range paths {
		stats, err := im.ImportFile(ctx, path, model.LeadSourceApolloCSV)
		if err != nil {
			zap.L().Error("leadimport: file failed",
				zap.String("file", filepath.Base(path)),
				zap.Error(err),
			)
			continue
		}
		total.Add(*stats)

		if err := im.moveProcessed(path); err != nil {
			zap.L().Warn("leadimport: could not archive file",
				zap.String("file", filepath.Base(path)),
				zap.Error(err),
			)
		}
	}
	return total, nil
}

func (im *Importer) moveProcessed(path string) error {
	if err := os.MkdirAll(im.processedDir, 0o755); err != nil {
		return eris.Wrap(err, "leadimport: create processed dir")
	}
	dest := filepath.Join(im.processedDir,
		fmt.Sprintf("%s_%s", im.now().Format("2006-01-02"), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		return eris.Wrapf(err, "leadimport: move %s", filepath.Base(path))
	}
	return nil
}
