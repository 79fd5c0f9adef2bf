package app

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrocms/pkg/auth"
	"retrocms/pkg/config"
	"retrocms/pkg/models"
	"retrocms/pkg/services"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RETROCMS_STORAGE_PATH", filepath.Join(dir, "cache", "retrocms.db"))
	t.Setenv("RETROCMS_BLOB_DIR", filepath.Join(dir, "blobs"))
	t.Setenv("RETROCMS_REMOTE_DRIVER", driver)
	t.Setenv("RETROCMS_HTTP_ADDR", "127.0.0.1:0")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	hash, err := auth.HashPassword("LeRetro2025")
	require.NoError(t, err)
	cfg.Admin.PasswordHash = hash
	return cfg
}

func TestMemoryDriverSyncsAndServes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, testConfig(t, config.DriverMemory), nil)
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, nil) }()

	require.Eventually(t, func() bool {
		return a.Content().State(services.KindPhotos) == services.StateRemoteSynced
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, a.Content().Photos(), 13)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remoteReady":true`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestSeedAndBackup(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, config.DriverMemory), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Seed(ctx))

	out := t.TempDir()
	path, err := a.Backup(out)
	require.NoError(t, err)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "cache/photos.json")
}

func TestLocalOnlyDriver(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, config.DriverNone), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Content().RemoteReady())
	assert.Error(t, a.Seed(ctx))

	_, err = a.Content().AddPhoto(ctx, a.Content().Photos()[0])
	assert.Error(t, err)
}

// serve runs a.Serve in the background and returns a func that stops it
func serve(t *testing.T, a *App) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, nil) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not stop")
		}
	}
}

func waitSynced(t *testing.T, a *App) {
	t.Helper()
	require.Eventually(t, func() bool {
		return a.Content().State(services.KindPhotos) == services.StateRemoteSynced &&
			a.Content().State(services.KindHeaderImages) == services.StateRemoteSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func photoIDs(photos []models.Photo) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		out = append(out, p.ID)
	}
	return out
}

func TestMemoryDriverKeepsEditsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverMemory)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	stop := serve(t, a)
	waitSynced(t, a)
	require.Len(t, a.Content().Photos(), 13)

	added, err := a.Content().AddPhoto(ctx, models.Photo{Src: "terrasse.jpg", Alt: "Terrasse", Category: models.CategoryPhotos})
	require.NoError(t, err)
	require.NoError(t, a.Content().UpdateHeaderImages(ctx, []string{"only.jpg"}))
	require.Eventually(t, func() bool {
		return len(a.Content().Photos()) == 14 && slices.Equal(a.Content().HeaderImages(), []string{"only.jpg"})
	}, 2*time.Second, 10*time.Millisecond)
	stop()
	a.Close()

	a, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	stop = serve(t, a)
	defer stop()
	waitSynced(t, a)

	assert.Never(t, func() bool { return len(a.Content().Photos()) != 14 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Contains(t, photoIDs(a.Content().Photos()), added.ID)
	assert.Equal(t, []string{"only.jpg"}, a.Content().HeaderImages())
}

func TestReloadedUploadLimitsReachBlobStore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverMemory)
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	stop := serve(t, a)
	defer stop()
	waitSynced(t, a)

	limits := cfg.Upload
	limits.MaxFileSize = 10 * 1024 * 1024
	a.SetUploadLimits(limits)

	size := 7 * 1024 * 1024
	file := models.File{Name: "salle.jpg", ContentType: "image/jpeg", Size: int64(size), Content: bytes.NewReader(make([]byte, size))}
	added, err := a.Content().AddPhotoFromFile(ctx, file, "Salle", models.CategoryPhotos)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(added.Src, "/blobs/photos/"+added.ID), added.Src)

	f, info, err := a.blobs.Open("photos/" + added.ID)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.EqualValues(t, size, info.Size)

	// Lowering the limit again applies to both checks
	limits.MaxFileSize = 1024
	a.SetUploadLimits(limits)
	_, err = a.Content().AddPhotoFromFile(ctx, models.File{Name: "b.jpg", ContentType: "image/jpeg", Size: 2048, Content: bytes.NewReader(make([]byte, 2048))}, "Salle", models.CategoryPhotos)
	require.Error(t, err)
}
