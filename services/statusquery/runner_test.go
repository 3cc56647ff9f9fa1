package statusquery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"statuswatch-backend/lib/restyutil"
	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/scrapers/vantage/catalog"

	"github.com/stretchr/testify/require"
)

const runnerAccountPage = `<html><body>
	<div id="account-overview" data-account-name="user123">
		<span class="account-name">user123</span>
		<span class="status-badge">Active</span>
	</div>
	<div class="deposit-summary">
		<span class="deposit-state">Approved</span>
		<span class="deposit-amount">$5,000.00</span>
	</div>
</body></html>`

func runnerSnapshot(t *testing.T, html string) *vantage.Snapshot {
	t.Helper()
	snap, err := vantage.NewSnapshot("http://portal/accounts/status?account=user123", 200, []byte(html))
	require.NoError(t, err)
	return snap
}

func TestPortalRunnerExtractsFromStaticPage(t *testing.T) {
	runner := PortalRunner{Engine: vantage.NewEngine(catalog.Default())}
	snap := runnerSnapshot(t, runnerAccountPage)

	result, err := runner.extract(context.Background(), nil, "user123", snap)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "Approved", result.Fields["deposit_status"].Value)
	require.Equal(t, "5000.00", result.Fields["amount"].Value)
}

func TestPortalRunnerDumpsFailedExtractions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	out := restyutil.NewFilesystemOutput(dir)
	runner := PortalRunner{
		Engine: vantage.NewEngine(catalog.Default()),
		Dumps:  &out,
	}

	snap := runnerSnapshot(t, `<html><body><p>maintenance in progress</p></body></html>`)
	_, err := runner.extract(context.Background(), nil, "user123", snap)

	var incomplete *vantage.ExtractionIncompleteError
	require.ErrorAs(t, err, &incomplete)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "extract-"))

	contents, readErr := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, readErr)
	require.Contains(t, string(contents), "maintenance in progress")
}

func TestPortalRunnerSkipsDumpWithoutDir(t *testing.T) {
	runner := PortalRunner{Engine: vantage.NewEngine(catalog.Default())}

	snap := runnerSnapshot(t, `<html><body><p>maintenance in progress</p></body></html>`)
	_, err := runner.extract(context.Background(), nil, "user123", snap)

	var incomplete *vantage.ExtractionIncompleteError
	require.ErrorAs(t, err, &incomplete)
}
