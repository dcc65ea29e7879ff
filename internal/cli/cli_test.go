package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/article-capture/internal/entity"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CAPTURE_DATABASE_PATH", filepath.Join(dir, "db", "capture.db"))
	t.Setenv("CAPTURE_OUTPUT_DIR", filepath.Join(dir, "captures"))
	t.Setenv("CAPTURE_COOKIE_PATH", filepath.Join(dir, "secrets", "auth_state.json"))
	t.Setenv("CAPTURE_DB_DRIVER", "sqlite")
	t.Setenv("CAPTURE_REDIS_ADDR", "")
	t.Setenv("CAPTURE_LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddAndStatus(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "add",
		"https://next.amboss.com/de/article/sepsis",
		"https://next.amboss.com/de/article/sepsis#therapie",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "added sepsis")
	assert.Contains(t, out, "already tracked sepsis")

	_, err = execute(t, "", "add", "https://example.com/nope")
	assert.Error(t, err)

	out, err = execute(t, "", "status", "sepsis", "--json")
	require.NoError(t, err)
	var st entity.URLStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, entity.StatusPending, st.Status)
	assert.Empty(t, st.Runs)

	out, err = execute(t, "", "status", "sepsis")
	require.NoError(t, err)
	assert.Contains(t, out, "status: pending")

	_, err = execute(t, "", "status", "unknown")
	assert.ErrorContains(t, err, "not tracked")
}

func TestImportAndStats(t *testing.T) {
	dir := setupEnv(t)
	list := filepath.Join(dir, "urls.md")
	require.NoError(t, os.WriteFile(list, []byte(strings.Join([]string{
		"# All Article URLs",
		"Generated on: 2024-01-01",
		"Total URLs: 3",
		"",
		"- https://next.amboss.com/de/article/asthma",
		"- https://next.amboss.com/de/article/copd?x=1",
		"https://next.amboss.com/de/article/asthma",
	}, "\n")), 0o644))

	out, err := execute(t, "", "import", list)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 of 2 URLs")

	out, err = execute(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "total urls")

	statsFile := filepath.Join(dir, "stats.json")
	_, err = execute(t, "", "stats", "--output", statsFile)
	require.NoError(t, err)
	data, err := os.ReadFile(statsFile)
	require.NoError(t, err)
	var stats entity.Stats
	require.NoError(t, json.Unmarshal(data, &stats))
	assert.Equal(t, 2, stats.TotalURLs)
	assert.Equal(t, 2, stats.Count(entity.StatusPending))

	_, err = execute(t, "", "import", filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestPurge(t *testing.T) {
	dir := setupEnv(t)
	_, err := execute(t, "", "add", "https://next.amboss.com/de/article/asthma")
	require.NoError(t, err)
	captures := filepath.Join(dir, "captures", "asthma")
	require.NoError(t, os.MkdirAll(captures, 0o755))

	out, err := execute(t, "n\n", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Operation cancelled.")
	assert.DirExists(t, captures)

	out, err = execute(t, "y\n", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Purge completed.")
	assert.NoDirExists(t, filepath.Join(dir, "captures"))

	_, err = execute(t, "", "status", "asthma")
	assert.Error(t, err)

	_, err = execute(t, "", "purge", "--yes")
	require.NoError(t, err)
}

func TestInMemoryDatabaseCreatesNoDirectory(t *testing.T) {
	dir := setupEnv(t)
	chdir(t, dir)
	t.Setenv("CAPTURE_DATABASE_PATH", "file:state/capture.db?mode=memory&cache=shared")

	out, err := execute(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total urls")
	assert.NoDirExists(t, filepath.Join(dir, "file:state"))
}

func TestConfigRedactsSecrets(t *testing.T) {
	setupEnv(t)
	t.Setenv("CAPTURE_REDIS_PASSWORD", "hunter2")
	t.Setenv("CAPTURE_POSTGRES_URL", "postgres://capture:s3cret@db:5432/capture")

	out, err := execute(t, "", "config", "--log-format", "text")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, `"LogFormat": "text"`)
}

func TestInvalidFlagOverride(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "", "config", "--log-format", "xml")
	assert.ErrorContains(t, err, "log_format")
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "sure?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "sure?"))
	assert.Contains(t, out.String(), "sure? [y/N]: ")
}

func TestPrintPreview(t *testing.T) {
	var out bytes.Buffer
	printPreview(&out, []string{"a", "b", "c", "d", "e", "f", "g"})
	assert.Contains(t, out.String(), "First 5 URLs:")
	assert.Contains(t, out.String(), "... and 2 more")
	assert.NotContains(t, out.String(), "  f\n")
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
