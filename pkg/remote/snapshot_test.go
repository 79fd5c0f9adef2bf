package remote

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrocms/pkg/models"
)

func TestCompareKeysOrdersIntegersFirst(t *testing.T) {
	keys := []string{"e2", "10", "2", "1", "e1", "007", "-3", "0194f2a0-7b1c-7000-8000-000000000000"}
	slices.SortFunc(keys, CompareKeys)

	assert.Equal(t, []string{"-3", "1", "2", "10", "007", "0194f2a0-7b1c-7000-8000-000000000000", "e1", "e2"}, keys)
}

func TestDecodePhotosFromObject(t *testing.T) {
	raw := []byte(`{
		"e1": {"id":"e1","src":"e.jpg","alt":"Soirée","category":"evenements"},
		"10": {"id":"10","src":"c.jpg","alt":"Cocktail","category":"photos"},
		"2":  {"src":"b.jpg","alt":"Bar","category":"photos"},
		"bad": "not a photo"
	}`)

	photos, skipped, err := decodePhotos(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	want := []models.Photo{
		{ID: "2", Src: "b.jpg", Alt: "Bar", Category: models.CategoryPhotos},
		{ID: "10", Src: "c.jpg", Alt: "Cocktail", Category: models.CategoryPhotos},
		{ID: "e1", Src: "e.jpg", Alt: "Soirée", Category: models.CategoryEvenements},
	}
	if diff := cmp.Diff(want, photos); diff != "" {
		t.Fatalf("photos mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePhotosFromArrayAndNull(t *testing.T) {
	photos, _, err := decodePhotos([]byte(`[null, {"id":"1","src":"a.jpg","alt":"A","category":"photos"}]`))
	require.NoError(t, err)
	require.Len(t, photos, 1)
	assert.Equal(t, "1", photos[0].ID)

	photos, _, err = decodePhotos([]byte("null"))
	require.NoError(t, err)
	assert.NotNil(t, photos)
	assert.Empty(t, photos)

	_, _, err = decodePhotos([]byte(`"text"`))
	require.Error(t, err)
}

func TestDecodeHeaderImagesShapes(t *testing.T) {
	images, _, err := decodeHeaderImages([]byte(`["a.jpg","b.jpg"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, images)

	images, _, err = decodeHeaderImages([]byte(`{"10":"k.jpg","0":"a.jpg","2":"c.jpg"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "c.jpg", "k.jpg"}, images)

	images, skipped, err := decodeHeaderImages([]byte(`["a.jpg", 3]`))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"a.jpg"}, images)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "photos/42", JoinPath("photos/", "/42"))
	assert.Equal(t, "a/b/c", JoinPath("a", "", "b/c"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a//b/"))
}
