package serviceutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"", "", false},
		{"Bearer", "", false},
		{"bearer abc123", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer abc 123", "", false},
		{"Bearer abc123", "abc123", true},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if c.header != "" {
			r.Header.Set("Authorization", c.header)
		}
		token, ok := BearerToken(r)
		require.Equal(t, c.ok, ok, "header %q", c.header)
		require.Equal(t, c.token, token, "header %q", c.header)
	}
}
