package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrocms/pkg/catalog"
	apperrors "retrocms/pkg/errors"
	"retrocms/pkg/models"
	"retrocms/pkg/remote"
	"retrocms/pkg/storage"
)

func newLocal(t *testing.T) (*storage.LocalStore, *storage.MemoryBackend) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	local, err := storage.NewLocalStore(backend, storage.Keys{}, nil, nil)
	require.NoError(t, err)
	return local, backend
}

func newService(t *testing.T, local *storage.LocalStore, client RemoteClient) *ContentService {
	t.Helper()
	svc, err := NewContentService(local, client, catalog.Default(), models.DefaultUploadLimits(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func photo(id string, category models.Category) models.Photo {
	return models.Photo{ID: id, Src: id + ".jpg", Alt: "Photo " + id, Category: category}
}

func ids(photos []models.Photo) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		out = append(out, p.ID)
	}
	return out
}

func TestEmptyCacheLoadsDefaultCatalog(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)

	assert.Len(t, svc.Photos(), 13)
	assert.Len(t, svc.HeaderImages(), 3)
	assert.Equal(t, StateLocalLoaded, svc.State(KindPhotos))
	assert.Equal(t, StateLocalLoaded, svc.State(KindHeaderImages))

	cached := storage.Get(local, storage.KeyPhotos, []models.Photo(nil))
	if diff := cmp.Diff(catalog.Default().Photos(), cached); diff != "" {
		t.Fatalf("cached photos mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, catalog.Default().HeaderImages(), storage.Get(local, storage.KeyHeaderImages, []string(nil)))
}

func TestCachedCollectionsWinOverCatalog(t *testing.T) {
	local, backend := newLocal(t)
	require.NoError(t, local.Set(storage.KeyPhotos, []models.Photo{photo("7", models.CategoryPhotos)}))
	require.NoError(t, local.Set(storage.KeyHeaderImages, []string{}))
	svc := newService(t, local, nil)

	assert.Equal(t, []string{"7"}, ids(svc.Photos()))
	assert.Empty(t, svc.HeaderImages())

	// Corrupt cache falls back to the catalog
	require.NoError(t, backend.Put("retro_photos", []byte("[{")))
	svc2 := newService(t, local, nil)
	assert.Len(t, svc2.Photos(), 13)
}

func TestPhotosByCategoryKeepsOrder(t *testing.T) {
	local, _ := newLocal(t)
	require.NoError(t, local.Set(storage.KeyPhotos, []models.Photo{
		photo("a", models.CategoryPhotos),
		photo("b", models.CategoryEvenements),
		photo("c", models.CategoryPhotos),
		photo("d", models.CategoryHeader),
		photo("e", models.CategoryPhotos),
	}))
	svc := newService(t, local, nil)

	_, err := svc.AddPhoto(context.Background(), photo("f", models.CategoryEvenements))
	require.NoError(t, err)

	for _, category := range models.Categories {
		var want []string
		for _, p := range svc.Photos() {
			if p.Category == category {
				want = append(want, p.ID)
			}
		}
		assert.Equal(t, want, ids(svc.PhotosByCategory(category)), category)
	}
	assert.Equal(t, []string{"a", "c", "e"}, ids(svc.PhotosByCategory(models.CategoryPhotos)))
	assert.Equal(t, []string{"b", "f"}, ids(svc.PhotosByCategory(models.CategoryEvenements)))
}

func TestAddPhotoAssignsUniqueIDs(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for _, p := range svc.Photos() {
		seen[p.ID] = true
	}
	for i := 0; i < 25; i++ {
		added, err := svc.AddPhoto(ctx, models.Photo{Src: "x.jpg", Alt: "X", Category: models.CategoryPhotos})
		require.NoError(t, err)
		require.NotEmpty(t, added.ID)
		require.False(t, seen[added.ID], "id %s reused", added.ID)
		seen[added.ID] = true
	}
	assert.Len(t, svc.Photos(), 13+25)

	_, err := svc.AddPhoto(ctx, photo("1", models.CategoryPhotos))
	require.ErrorIs(t, err, apperrors.ErrDuplicatePhotoID)
}

func TestLocalFallbackPersistsMutations(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)
	ctx := context.Background()
	require.False(t, client.IsReady())

	added, err := svc.AddPhoto(ctx, models.Photo{Src: "n.jpg", Alt: "Nouveau", Category: models.CategoryEvenements})
	require.NoError(t, err)
	assert.Contains(t, ids(svc.Photos()), added.ID)
	assert.Contains(t, ids(storage.Get(local, storage.KeyPhotos, []models.Photo(nil))), added.ID)

	alt := "Terrasse"
	require.NoError(t, svc.UpdatePhoto(ctx, added.ID, models.PhotoPatch{Alt: &alt}))
	assert.Equal(t, "Terrasse", svc.PhotosByCategory(models.CategoryEvenements)[2].Alt)

	err = svc.UpdatePhoto(ctx, "missing", models.PhotoPatch{Alt: &alt})
	require.ErrorIs(t, err, apperrors.ErrPhotoNotFound)

	require.NoError(t, svc.DeletePhoto(ctx, added.ID))
	require.NoError(t, svc.DeletePhoto(ctx, added.ID))
	assert.NotContains(t, ids(storage.Get(local, storage.KeyPhotos, []models.Photo(nil))), added.ID)

	_, _, remoteAdds, _ := client.calls()
	assert.Zero(t, remoteAdds)
}

func TestLocalWriteFailureLeavesStateUntouched(t *testing.T) {
	local, backend := newLocal(t)
	svc := newService(t, local, nil)
	backend.FailWrites(errors.New("quota exceeded"))

	_, err := svc.AddPhoto(context.Background(), photo("new", models.CategoryPhotos))
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.Len(t, svc.Photos(), 13)

	err = svc.UpdateHeaderImages(context.Background(), []string{"a.jpg"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.Len(t, svc.HeaderImages(), 3)
}

func TestUpdateHeaderImagesKeepsOrder(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)

	require.NoError(t, svc.UpdateHeaderImages(context.Background(), []string{"a.jpg", "b.jpg"}))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, svc.HeaderImages())
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, storage.Get(local, storage.KeyHeaderImages, []string(nil)))
}

func TestEmptyRemoteIsSeededOnce(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)

	client.emitPhotos(remote.OriginRemote)
	client.emitHeaders(remote.OriginRemote)
	replace, headers, _, _ := client.calls()
	assert.Equal(t, 1, replace)
	assert.Equal(t, 1, headers)
	assert.Equal(t, StateLocalLoaded, svc.State(KindPhotos))

	client.emitPhotos(remote.OriginRemote)
	client.emitHeaders(remote.OriginRemote)
	replace, headers, _, _ = client.calls()
	assert.Equal(t, 1, replace)
	assert.Equal(t, 1, headers)

	client.mu.Lock()
	seeded := client.replaceCalls[0]
	client.mu.Unlock()
	if diff := cmp.Diff(catalog.Default().Photos(), seeded); diff != "" {
		t.Fatalf("seeded photos mismatch (-want +got):\n%s", diff)
	}

	// Local content survives until the seed comes back
	assert.Len(t, svc.Photos(), 13)
}

func TestRemoteSnapshotOverwritesMemoryAndCache(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)

	var pushed [][]string
	unsubscribe := svc.SubscribePhotos(func(p []models.Photo) { pushed = append(pushed, ids(p)) })
	defer unsubscribe()

	client.emitPhotos(remote.OriginRemote, photo("2", models.CategoryPhotos), photo("10", models.CategoryPhotos))
	assert.Equal(t, StateRemoteSynced, svc.State(KindPhotos))
	assert.Equal(t, []string{"2", "10"}, ids(svc.Photos()))
	assert.Equal(t, []string{"2", "10"}, ids(storage.Get(local, storage.KeyPhotos, []models.Photo(nil))))
	require.Len(t, pushed, 2)
	assert.Len(t, pushed[0], 13)

	// A cached snapshot after sync is ignored
	client.emitPhotos(remote.OriginCache, photo("old", models.CategoryPhotos))
	assert.Equal(t, []string{"2", "10"}, ids(svc.Photos()))

	// Cleared after sync is a real clear, not a reseed
	client.emitPhotos(remote.OriginRemote)
	assert.Empty(t, svc.Photos())
	replace, _, _, _ := client.calls()
	assert.Zero(t, replace)
}

func TestCachedSnapshotAppliesBeforeSync(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)

	client.emitHeaders(remote.OriginCache, "cached.jpg")
	assert.Equal(t, []string{"cached.jpg"}, svc.HeaderImages())
	assert.Equal(t, StateLocalLoaded, svc.State(KindHeaderImages))

	client.emitHeaders(remote.OriginCache)
	assert.Equal(t, []string{"cached.jpg"}, svc.HeaderImages())
}

func TestEmptyWriteSnapshotClearsBeforeSync(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)

	// Seeding is attempted but its echo never arrives
	client.emitHeaders(remote.OriginRemote)
	_, headers, _, _ := client.calls()
	require.Equal(t, 1, headers)
	require.Len(t, svc.HeaderImages(), 3)

	// Clearing the list through the client is what the remote store now holds
	client.emitHeaders(remote.OriginWrite)
	assert.Empty(t, svc.HeaderImages())
	assert.Empty(t, storage.Get(local, storage.KeyHeaderImages, []string{"stale.jpg"}))
	assert.Equal(t, StateRemoteSynced, svc.State(KindHeaderImages))
}

func TestMutationsRouteToRemoteWhenReady(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)
	ctx := context.Background()
	client.emitPhotos(remote.OriginRemote, photo("1", models.CategoryPhotos))

	added, err := svc.AddPhoto(ctx, models.Photo{Src: "r.jpg", Alt: "R", Category: models.CategoryPhotos})
	require.NoError(t, err)
	_, _, adds, _ := client.calls()
	assert.Equal(t, 1, adds)
	// Memory follows the remote mirror, not the call
	assert.NotContains(t, ids(svc.Photos()), added.ID)

	alt := "Bar"
	require.NoError(t, svc.UpdatePhoto(ctx, "1", models.PhotoPatch{Alt: &alt}))
	require.NoError(t, svc.DeletePhoto(ctx, "1"))
	require.NoError(t, svc.UpdateHeaderImages(ctx, []string{"h.jpg"}))

	client.mu.Lock()
	client.failWrites = apperrors.WriteError(errors.New("permission denied"), "set")
	client.mu.Unlock()
	_, err = svc.AddPhoto(ctx, models.Photo{Src: "r.jpg", Alt: "R", Category: models.CategoryPhotos})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeWrite))
}

func TestAddPhotoFromFileRejectsOversizedFile(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)
	client.emitPhotos(remote.OriginRemote, photo("1", models.CategoryPhotos))

	file := models.File{
		Name:        "big.jpg",
		ContentType: "image/jpeg",
		Size:        6 * 1024 * 1024,
		Content:     bytes.NewReader(make([]byte, 6*1024*1024)),
	}
	_, err := svc.AddPhotoFromFile(context.Background(), file, "Trop grand", models.CategoryPhotos)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	_, _, adds, uploads := client.calls()
	assert.Zero(t, adds)
	assert.Zero(t, uploads)
	assert.Equal(t, []string{"1"}, ids(svc.Photos()))
}

func TestAddPhotoFromFileUploadsWhenRemoteReady(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)
	client.emitPhotos(remote.OriginRemote, photo("1", models.CategoryPhotos))

	file := models.File{Name: "a.png", ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}
	added, err := svc.AddPhotoFromFile(context.Background(), file, "Soirée", models.CategoryEvenements)
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.test/photos/"+added.ID, added.Src)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.added, 1)
	assert.Equal(t, added, client.added[0])
	assert.Equal(t, []string{added.ID}, client.uploads)
}

func TestAddPhotoFromFileRemovesFileWhenAddFails(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)
	client.emitPhotos(remote.OriginRemote, photo("1", models.CategoryPhotos))

	client.mu.Lock()
	client.failAdds = apperrors.WriteError(errors.New("permission denied"), "set")
	client.mu.Unlock()

	file := models.File{Name: "a.png", ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}
	_, err := svc.AddPhotoFromFile(context.Background(), file, "Soirée", models.CategoryEvenements)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeWrite))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.uploads, 1)
	assert.Equal(t, client.uploads, client.fileDeletes)
}

func TestAddPhotoFromFileDoesNotNeedFileName(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)

	file := models.File{ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}
	added, err := svc.AddPhotoFromFile(context.Background(), file, "Comptoir", models.CategoryPhotos)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,cG5n", added.Src)

	_, err = svc.AddPhotoFromFile(context.Background(), models.File{ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}, "Comptoir", "menu")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CATEGORY_INVALID", appErr.Code)
}

func TestAddPhotoFromFileInlinesWhenOffline(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)

	file := models.File{Name: "a.png", ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}
	added, err := svc.AddPhotoFromFile(context.Background(), file, "Soirée", models.CategoryEvenements)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,cG5n", added.Src)
	assert.Contains(t, ids(svc.PhotosByCategory(models.CategoryEvenements)), added.ID)

	gif := models.File{Name: "a.gif", ContentType: "image/gif", Size: 3, Content: strings.NewReader("gif")}
	_, err = svc.AddPhotoFromFile(context.Background(), gif, "Gif", models.CategoryPhotos)
	require.ErrorIs(t, err, apperrors.ErrFileTypeNotAllowed)

	_, err = svc.AddPhotoFromFile(context.Background(), file, "", models.CategoryPhotos)
	require.Error(t, err)
}

func TestInlineImageAndHotLimits(t *testing.T) {
	local, _ := newLocal(t)
	svc := newService(t, local, nil)

	src, err := svc.InlineImage(models.File{Name: "h.webp", ContentType: "image/webp", Size: 4, Content: strings.NewReader("webp")})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(src, "data:image/webp;base64,"))

	limits := svc.UploadLimits()
	limits.MaxFileSize = 2
	svc.SetUploadLimits(limits)
	_, err = svc.InlineImage(models.File{Name: "h.webp", ContentType: "image/webp", Size: 4, Content: strings.NewReader("webp")})
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)

	// The declared size can lie; the content is measured too
	_, err = svc.InlineImage(models.File{Name: "h.webp", ContentType: "image/webp", Size: 1, Content: strings.NewReader("webp")})
	require.ErrorIs(t, err, apperrors.ErrFileTooLarge)
}

func TestCloseStopsFollowingRemote(t *testing.T) {
	local, _ := newLocal(t)
	client := newFakeRemote()
	svc := newService(t, local, client)

	svc.Close()
	svc.Close()
	assert.Zero(t, client.photos.Len())

	client.emitPhotos(remote.OriginRemote, photo("1", models.CategoryPhotos))
	assert.Len(t, svc.Photos(), 13)
}
