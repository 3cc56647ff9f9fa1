package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const page = `
<html><body>
	<div class="status">
		<span class="label">Account&nbsp;Status</span>
		<span class="value">  Active
		</span>
	</div>
	<a id="profile" href="/profile?id=3">Profile</a>
</body></html>`

func doc(t *testing.T) *goquery.Document {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return d
}

func TestSelectionText(t *testing.T) {
	d := doc(t)
	require.Equal(t, "Active", SelectionText(d.Find(".status .value")))
	require.Equal(t, "", SelectionText(d.Find(".does-not-exist")))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "a b", CleanText("  a \t\n  b "))
}

func TestFirstAttr(t *testing.T) {
	d := doc(t)
	require.Equal(t, "/profile?id=3", FirstAttr(d.Find("#profile"), "href"))
	require.Equal(t, "", FirstAttr(d.Find("#profile"), "data-missing"))
}
