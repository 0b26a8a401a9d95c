package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndNormalize(t *testing.T) {
	v := NewSourceURLValidator()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "adds https", input: "mangasite.org/manga/x", want: "https://mangasite.org/manga/x"},
		{name: "lowercases host", input: "https://MangaSite.org/a", want: "https://mangasite.org/a"},
		{name: "drops fragment", input: "https://mangasite.org/a#top", want: "https://mangasite.org/a"},
		{name: "empty", input: "  ", wantErr: "cannot be empty"},
		{name: "bad characters", input: "https://a.org/<script>", wantErr: "invalid characters"},
		{name: "localhost blocked", input: "http://localhost:8080/x", wantErr: "localhost URLs are not permitted"},
		{name: "private ip blocked", input: "http://192.168.1.4/x", wantErr: "private IP"},
		{name: "traversal", input: "https://a.org/../etc", wantErr: "directory traversal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndNormalize(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissiveAllowsLocal(t *testing.T) {
	v := NewPermissiveSourceURLValidator()
	got, err := v.ValidateAndNormalize("http://127.0.0.1:9000/feed")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/feed", got)
}

func TestCanonicalID(t *testing.T) {
	v := NewSourceURLValidator()
	base := "https://mangasite.org"

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare slug", raw: "solo-leveling", want: "https://mangasite.org/manga/solo-leveling/"},
		{name: "slug with prefix", raw: "manga/solo-leveling", want: "https://mangasite.org/manga/solo-leveling/"},
		{name: "full url", raw: "https://mangasite.org/manga/solo-leveling", want: "https://mangasite.org/manga/solo-leveling/"},
		{name: "http upgraded to base scheme", raw: "http://mangasite.org/manga/solo-leveling/?ref=x", want: "https://mangasite.org/manga/solo-leveling/"},
		{name: "schemeless url", raw: "mangasite.org/manga/solo-leveling/", want: "https://mangasite.org/manga/solo-leveling/"},
		{name: "foreign host", raw: "https://other.org/manga/solo-leveling", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.CanonicalID(tt.raw, base, "manga")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "solo-leveling", Slug("https://mangasite.org/manga/solo-leveling/"))
	assert.Equal(t, "abc", Slug("abc"))
}
