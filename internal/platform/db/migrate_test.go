package db

import (
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/fatflowers/subledger/internal/models"
)

var createTableRe = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\n\);`)

// migratedColumns reads the Up sections of the embedded migrations and
// returns the columns each created table declares.
func migratedColumns(t *testing.T) map[string][]string {
	t.Helper()
	files, err := fs.Glob(migrationsFS, migrationsDir+"/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	tables := map[string][]string{}
	for _, f := range files {
		raw, err := fs.ReadFile(migrationsFS, f)
		require.NoError(t, err)
		up, _, found := strings.Cut(string(raw), "-- +goose Down")
		require.True(t, found, "%s has no down section", f)

		for _, m := range createTableRe.FindAllStringSubmatch(up, -1) {
			for _, line := range strings.Split(m[2], "\n") {
				fields := strings.Fields(line)
				// constraint continuation lines start upper case
				if len(fields) == 0 || strings.ToLower(fields[0]) != fields[0] {
					continue
				}
				tables[m[1]] = append(tables[m[1]], fields[0])
			}
		}
	}
	return tables
}

func TestMigrations_MatchModels(t *testing.T) {
	tables := migratedColumns(t)

	for _, model := range models.All() {
		s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
		require.NoError(t, err)

		t.Run(s.Table, func(t *testing.T) {
			columns, ok := tables[s.Table]
			require.True(t, ok, "no CREATE TABLE for %s", s.Table)

			var modelColumns []string
			for _, f := range s.Fields {
				if f.DBName != "" {
					modelColumns = append(modelColumns, f.DBName)
				}
			}
			require.ElementsMatch(t, modelColumns, columns)
		})
	}
	require.Len(t, tables, len(models.All()))
}

func TestMigrations_VersionsAreSequential(t *testing.T) {
	goose.SetBaseFS(migrationsFS)
	t.Cleanup(func() { goose.SetBaseFS(nil) })

	migrations, err := goose.CollectMigrations(migrationsDir, 0, goose.MaxVersion)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		require.Equal(t, int64(i+1), m.Version, m.Source)
	}
}
