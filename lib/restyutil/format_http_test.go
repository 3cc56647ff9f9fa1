package restyutil

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatHeadersRedactsCredentials(t *testing.T) {
	headers := http.Header{}
	headers.Set("Cookie", "VANTAGE_SESSION=abc123")
	headers.Set("Accept", "text/html")

	out := formatHeaders(headers)
	require.Contains(t, out, "Accept: text/html")
	require.Contains(t, out, "Cookie: [redacted]")
	require.NotContains(t, out, "abc123")
}

func TestRedactFormBody(t *testing.T) {
	body := "username=alice&password=hunter2&remember=1"
	out := redactFormBody(body)
	require.NotContains(t, out, "hunter2")
	require.Contains(t, out, "username=alice")

	// non-form bodies come back untouched
	require.Equal(t, "{}", redactFormBody("{}"))
}

func TestRedactFormBodyOtp(t *testing.T) {
	out := redactFormBody("otp_code=991234&submit=Verify")
	require.False(t, strings.Contains(out, "991234"))
}
