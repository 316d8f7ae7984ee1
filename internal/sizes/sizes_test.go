package sizes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForSkipsPresetsLargerThanSource(t *testing.T) {
	tests := []struct {
		name      string
		srcWidth  int
		srcHeight int
		want      []string
	}{
		{
			name:     "800x600 excludes large and full",
			srcWidth: 800, srcHeight: 600,
			want: []string{"thumb", "small", "medium"},
		},
		{
			name:     "full hd source gets every preset",
			srcWidth: 1920, srcHeight: 1080,
			want: []string{"thumb", "small", "medium", "large", "full"},
		},
		{
			name:     "tiny source gets nothing",
			srcWidth: 100, srcHeight: 100,
			want: nil,
		},
		{
			name:     "one axis too small skips the preset",
			srcWidth: 4000, srcHeight: 200,
			want: []string{"thumb"},
		},
		{
			name:     "exact match is included",
			srcWidth: 150, srcHeight: 150,
			want: []string{"thumb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := For(tt.srcWidth, tt.srcHeight)

			var names []string
			for _, p := range got {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestAllIsOrderedByAscendingWidth(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)

	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].TargetWidth, all[i-1].TargetWidth)
	}
}

func TestAllReturnsACopy(t *testing.T) {
	all := All()
	all[0].Name = "mutated"

	assert.Equal(t, "thumb", All()[0].Name)
}

func TestByName(t *testing.T) {
	p, ok := ByName("medium")
	require.True(t, ok)
	assert.Equal(t, 640, p.TargetWidth)
	assert.Equal(t, 480, p.TargetHeight)

	_, ok = ByName("nope")
	assert.False(t, ok)
}

func TestExtAndContentType(t *testing.T) {
	jpeg := Preset{Format: "jpeg"}
	png := Preset{Format: "png"}
	gif := Preset{Format: "gif"}

	assert.Equal(t, "jpg", jpeg.Ext())
	assert.Equal(t, "image/jpeg", jpeg.ContentType())
	assert.Equal(t, "png", png.Ext())
	assert.Equal(t, "image/png", png.ContentType())
	assert.Equal(t, "gif", gif.Ext())
	assert.Equal(t, "image/gif", gif.ContentType())
}
