package chat

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/Nirovitsky/baltek-chat-gateway/internal/models"
)

// FileUploader is the slice of the upstream client the tracker needs.
type FileUploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (models.UploadedFile, error)
}

// Upload tracks one in-flight or completed file upload.
type Upload struct {
	ID   string
	Name string

	// File is set once the upload completes, Err if it failed.
	File *models.UploadedFile
	Err  error

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed when the upload finishes, fails, or is aborted.
func (u *Upload) Done() <-chan struct{} { return u.done }

// UploadTracker runs file uploads and resolves their results into the
// attachment metadata embedded in outgoing messages. Aborting an upload
// removes it from tracking without touching any message state.
type UploadTracker struct {
	mu      sync.Mutex
	client  FileUploader
	uploads map[string]*Upload
}

func NewUploadTracker(client FileUploader) *UploadTracker {
	return &UploadTracker{
		client:  client,
		uploads: make(map[string]*Upload),
	}
}

// Start begins uploading and returns the tracking handle immediately.
func (t *UploadTracker) Start(ctx context.Context, name string, r io.Reader) *Upload {
	ctx, cancel := context.WithCancel(ctx)
	up := &Upload{
		ID:     uuid.NewString(),
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	t.uploads[up.ID] = up
	t.mu.Unlock()

	go func() {
		defer cancel()
		file, err := t.client.UploadFile(ctx, name, r)

		t.mu.Lock()
		if _, tracked := t.uploads[up.ID]; !tracked {
			// Aborted while in flight; drop the result.
			t.mu.Unlock()
			close(up.done)
			return
		}
		if err != nil {
			up.Err = err
		} else {
			up.File = &file
		}
		t.mu.Unlock()
		close(up.done)
	}()

	return up
}

// Abort cancels an in-flight upload and removes it from tracking.
func (t *UploadTracker) Abort(id string) {
	t.mu.Lock()
	up, ok := t.uploads[id]
	if ok {
		delete(t.uploads, id)
	}
	t.mu.Unlock()
	if ok {
		up.cancel()
	}
}

// Remove drops a completed upload from tracking, typically after the message
// referencing it has been sent.
func (t *UploadTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.uploads, id)
	t.mu.Unlock()
}

// Resolve maps uploaded-file ids to attachment metadata. Unknown or
// unfinished ids are skipped.
func (t *UploadTracker) Resolve(fileIDs []models.FlexID) []models.Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()

	var attachments []models.Attachment
	for _, id := range fileIDs {
		for _, up := range t.uploads {
			if up.File != nil && up.File.ID == id {
				attachments = append(attachments, up.File.Attachment())
				break
			}
		}
	}
	return attachments
}
