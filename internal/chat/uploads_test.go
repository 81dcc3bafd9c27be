package chat

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

type fakeUploader struct {
	release chan struct{}
	file    models.UploadedFile
}

func (f *fakeUploader) UploadFile(ctx context.Context, name string, r io.Reader) (models.UploadedFile, error) {
	select {
	case <-ctx.Done():
		return models.UploadedFile{}, ctx.Err()
	case <-f.release:
		file := f.file
		if file.Name == "" {
			file.Name = name
		}
		return file, nil
	}
}

func TestUploadResolve(t *testing.T) {
	uploader := &fakeUploader{
		release: make(chan struct{}),
		file:    models.UploadedFile{ID: "55", FileURL: "https://cdn.example/cv.pdf", ContentType: "application/pdf", Size: 1024},
	}
	tracker := NewUploadTracker(uploader)

	up := tracker.Start(context.Background(), "cv.pdf", strings.NewReader("content"))

	// Unfinished uploads resolve to nothing.
	require.Empty(t, tracker.Resolve([]models.FlexID{"55"}))

	close(uploader.release)
	select {
	case <-up.Done():
	case <-time.After(time.Second):
		t.Fatal("upload did not complete")
	}
	require.NoError(t, up.Err)
	require.NotNil(t, up.File)

	attachments := tracker.Resolve([]models.FlexID{"55", "unknown"})
	require.Len(t, attachments, 1)
	require.Equal(t, models.FlexID("55"), attachments[0].ID)
	require.Equal(t, "cv.pdf", attachments[0].Name)
	require.Equal(t, "https://cdn.example/cv.pdf", attachments[0].URL)
	require.Equal(t, "application/pdf", attachments[0].ContentType)
	require.EqualValues(t, 1024, attachments[0].Size)
}

func TestUploadAbort(t *testing.T) {
	uploader := &fakeUploader{release: make(chan struct{}), file: models.UploadedFile{ID: "56"}}
	tracker := NewUploadTracker(uploader)

	up := tracker.Start(context.Background(), "photo.png", strings.NewReader("content"))
	tracker.Abort(up.ID)

	select {
	case <-up.Done():
	case <-time.After(time.Second):
		t.Fatal("aborted upload did not finish")
	}

	// An aborted upload drops out of tracking entirely.
	require.Empty(t, tracker.Resolve([]models.FlexID{"56"}))
}
