package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "secret shaped token",
			in:   "key is sk-live-abc123XYZ_-9",
			want: "key is REDACTED",
		},
		{
			name: "bearer header",
			in:   "Authorization: Bearer abc.def-123",
			want: "Authorization: Bearer REDACTED",
		},
		{
			name: "sensitive query param",
			in:   "GET /x?api_key=abcdef123&foo=bar",
			want: "GET /x?api_key=REDACTED&foo=bar",
		},
		{
			name: "long hex blob",
			in:   "trace " + "a1b2c3d4e5f60718293a4b5c6d7e8f90",
			want: "trace REDACTED",
		},
		{
			name: "plain text untouched",
			in:   "nothing sensitive here",
			want: "nothing sensitive here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in))
		})
	}
}

func TestContext_RecursesNestedMapsAndSlices(t *testing.T) {
	in := map[string]any{
		"url": "https://example.com?token=sk-live-abcdef1234",
		"nested": map[string]any{
			"header": "Bearer sometoken123",
		},
		"list": []any{"sk-live-zzzzzzzzzz", "plain"},
		"count": 3,
	}
	out := Context(in)

	assert.Equal(t, "https://example.com?token="+Redacted, out["url"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "Bearer "+Redacted, nested["header"])
	list := out["list"].([]any)
	assert.Equal(t, Redacted, list[0])
	assert.Equal(t, "plain", list[1])
	assert.Equal(t, 3, out["count"])
}

func TestContext_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Context(nil))
}

func TestKeys_SortedAndStable(t *testing.T) {
	ctx := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, Keys(ctx))
}

func TestKeys_Empty(t *testing.T) {
	assert.Equal(t, []string{}, Keys(map[string]any{}))
}
