package leadimport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

type captureStore struct {
	store.Store

	created  [][]model.Lead
	inserted int
}

func (s *captureStore) CreateLeads(_ context.Context, leads []model.Lead) (int, error) {
	s.created = append(s.created, leads)
	if s.inserted >= 0 && s.inserted <= len(leads) {
		return s.inserted, nil
	}
	return len(leads), nil
}

const apolloCSV = `First Name,Last Name,Email,Company Name,Industry,Title,Phone,LinkedIn URL,Company Website,# Employees,Location
Ada,Lovelace,ADA@Example.com,Analytical Engines,Manufacturing,CTO,555-0100,https://linkedin.com/in/ada,https://analytical.example,"1,200",London
Grace,Hopper,grace@navy.example,,Defense,Rear Admiral,,,,"",Arlington
Bad,Row,not-an-email,Broken Co,,,,,,,
,NoEmail,,Empty Co,,,,,,,
`

func writeCSV(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testImporter(st store.Store, dir string) *Importer {
	im := New(st, config.ImportConfig{
		Dir:          dir,
		ProcessedDir: filepath.Join(dir, "processed"),
	})
	im.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }
	return im
}

func TestImportFile_ParsesApolloFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "batch.csv", apolloCSV)
	st := &captureStore{inserted: -1}

	stats, err := testImporter(st, dir).ImportFile(context.Background(), path, model.LeadSourceApolloCSV)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, 2, stats.Skipped, "invalid and missing emails are skipped")
	assert.Equal(t, 0, stats.Duplicates)

	require.Len(t, st.created, 1)
	leads := st.created[0]
	require.Len(t, leads, 2)

	ada := leads[0]
	assert.Equal(t, "ada@example.com", ada.Email, "emails are lowercased")
	assert.Equal(t, "Ada", ada.FirstName)
	assert.Equal(t, "Analytical Engines", ada.Company)
	assert.Equal(t, model.LeadSourceApolloCSV, ada.Source)
	assert.Equal(t, model.LeadStatusNew, ada.Status)
	assert.Equal(t, 1200, ada.Metadata.EmployeeCount)
	assert.Equal(t, "https://linkedin.com/in/ada", ada.Metadata.LinkedInURL)
	assert.Equal(t, "London", ada.Metadata.Location)

	assert.Equal(t, "Unknown", leads[1].Company, "missing company falls back to Unknown")
}

func TestImportFile_CountsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "batch.csv", apolloCSV)
	st := &captureStore{inserted: 1}

	stats, err := testImporter(st, dir).ImportFile(context.Background(), path, model.LeadSourceApolloCSV)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Imported)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestImportFile_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir, "empty.csv", "Email,First Name\n")
	st := &captureStore{}

	stats, err := testImporter(st, dir).ImportFile(context.Background(), path, model.LeadSourceApolloCSV)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, st.created)
}

func TestImportAll_MovesFilesToProcessed(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "one.csv", apolloCSV)
	writeCSV(t, dir, "two.csv", "Email\nbob@example.com\n")
	st := &captureStore{inserted: -1}

	im := testImporter(st, dir)
	stats, err := im.ImportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Imported)

	remaining, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	assert.Empty(t, remaining, "imported files leave the drop directory")

	_, err = os.Stat(filepath.Join(dir, "processed", "2025-06-02_one.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "processed", "2025-06-02_two.csv"))
	assert.NoError(t, err)
}

func TestPick_AliasesAndCase(t *testing.T) {
	row := map[string]string{"EMAIL ": "a@b.com", "Job Title": "VP Eng"}

	assert.Equal(t, "a@b.com", pick(row, "Email"))
	assert.Equal(t, "VP Eng", pick(row, "Title", "Job Title"))
	assert.Equal(t, "", pick(row, "Phone"))
}
