package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDomain(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "https lowercased", url: "https://API.Example.com/v1/resource", want: "api.example.com"},
		{name: "http allowed", url: "http://internal.svc:8080/path", want: "internal.svc"},
		{name: "ftp scheme rejected", url: "ftp://files.example.com/x", wantErr: true},
		{name: "file scheme rejected", url: "file:///etc/passwd", wantErr: true},
		{name: "malformed url", url: "://not a url", wantErr: true},
		{name: "no host", url: "https:///path-only", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDomain(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
