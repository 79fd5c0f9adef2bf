package services

import (
	"context"
	"sync"

	"retrocms/pkg/models"
	"retrocms/pkg/observable"
	"retrocms/pkg/remote"
)

// fakeRemote records calls and lets tests push snapshots by hand
type fakeRemote struct {
	mu           sync.Mutex
	ready        bool
	failWrites   error
	replaceCalls [][]models.Photo
	headerCalls  [][]string
	added        []models.Photo
	updated      []string
	deleted      []string
	uploads      []string
	fileDeletes  []string
	failAdds     error

	photos  *observable.Value[remote.Snapshot[models.Photo]]
	headers *observable.Value[remote.Snapshot[string]]
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		photos:  observable.Empty[remote.Snapshot[models.Photo]](),
		headers: observable.Empty[remote.Snapshot[string]](),
	}
}

func (f *fakeRemote) emitPhotos(origin remote.Origin, photos ...models.Photo) {
	if origin != remote.OriginCache {
		f.mu.Lock()
		f.ready = true
		f.mu.Unlock()
	}
	f.photos.Set(remote.Snapshot[models.Photo]{Items: photos, Origin: origin})
}

func (f *fakeRemote) emitHeaders(origin remote.Origin, images ...string) {
	if origin != remote.OriginCache {
		f.mu.Lock()
		f.ready = true
		f.mu.Unlock()
	}
	f.headers.Set(remote.Snapshot[string]{Items: images, Origin: origin})
}

func (f *fakeRemote) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeRemote) SubscribePhotos(fn func(remote.Snapshot[models.Photo])) func() {
	return f.photos.Subscribe(fn)
}

func (f *fakeRemote) SubscribeHeaderImages(fn func(remote.Snapshot[string])) func() {
	return f.headers.Subscribe(fn)
}

func (f *fakeRemote) AddPhoto(_ context.Context, photo models.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	if f.failAdds != nil {
		return f.failAdds
	}
	f.added = append(f.added, photo)
	return nil
}

func (f *fakeRemote) UpdatePhoto(_ context.Context, id string, _ models.PhotoPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeRemote) DeletePhoto(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) UpdateHeaderImages(_ context.Context, images []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.headerCalls = append(f.headerCalls, images)
	return nil
}

func (f *fakeRemote) ReplacePhotos(_ context.Context, photos []models.Photo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return f.failWrites
	}
	f.replaceCalls = append(f.replaceCalls, photos)
	return nil
}

func (f *fakeRemote) UploadPhotoFile(_ context.Context, _ models.File, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return "", f.failWrites
	}
	f.uploads = append(f.uploads, id)
	return "https://blobs.test/photos/" + id, nil
}

func (f *fakeRemote) DeletePhotoFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileDeletes = append(f.fileDeletes, id)
	return nil
}

func (f *fakeRemote) calls() (replace, headers, added, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replaceCalls), len(f.headerCalls), len(f.added), len(f.uploads)
}

var _ RemoteClient = (*fakeRemote)(nil)
