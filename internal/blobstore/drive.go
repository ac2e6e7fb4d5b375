package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DriveStore uploads blobs into a Google Drive folder with a service account.
// Re-uploading a key updates the existing file.
type DriveStore struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewDriveStore(ctx context.Context, credPath, folderID string) (*DriveStore, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewDriveStoreWithService(svc, folderID), nil
}

func NewDriveStoreWithService(svc *drive.Service, folderID string) *DriveStore {
	return &DriveStore{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}
}

func (s *DriveStore) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	media := googleapi.ContentType(contentType)

	if fileID, ok := s.fileIDs[key]; ok {
		f, err := s.service.Files.Update(fileID, &drive.File{}).
			Media(bytes.NewReader(data), media).
			Fields("id", "webViewLink").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("drive update: %w", err)
		}
		return f.WebViewLink, nil
	}

	file := &drive.File{Name: key, MimeType: contentType}
	if s.folderID != "" {
		file.Parents = []string{s.folderID}
	}
	f, err := s.service.Files.Create(file).
		Media(bytes.NewReader(data), media).
		Fields("id", "webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}

	s.fileIDs[key] = f.Id
	return f.WebViewLink, nil
}
