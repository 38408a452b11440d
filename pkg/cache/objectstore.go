package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ObjectStore mirrors cached files to remote storage so a wiped local
// directory can be restored instead of re-downloaded
type ObjectStore interface {
	Put(ctx context.Context, name, localPath string) (string, error)
	Get(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// DriveStore backs cache files up to a Google Drive folder
type DriveStore struct {
	service  *drive.Service
	folderID string
}

// NewDriveStore creates a drive-backed object store using a service
// account credentials file. folderID may be empty to upload at the root.
func NewDriveStore(ctx context.Context, credentialsFile, folderID string) (*DriveStore, error) {
	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveStore{service: service, folderID: folderID}, nil
}

// Put uploads the local file and returns the drive file id as the backup key
func (d *DriveStore) Put(ctx context.Context, name, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for backup: %w", err)
	}
	defer file.Close()

	meta := &drive.File{Name: filepath.Base(name)}
	if d.folderID != "" {
		meta.Parents = []string{d.folderID}
	}
	created, err := d.service.Files.Create(meta).Media(file).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}
	return created.Id, nil
}

// Get downloads the backup object to localPath
func (d *DriveStore) Get(ctx context.Context, key, localPath string) error {
	resp, err := d.service.Files.Get(key).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download backup %s: %w", key, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to write restored file: %w", err)
	}
	return nil
}

// Exists checks whether the backup object is still present
func (d *DriveStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, err := d.service.Files.Get(key).Fields("id").Context(ctx).Do()
	if err != nil {
		if strings.Contains(err.Error(), "404") || strings.Contains(err.Error(), "File not found") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the backup object. Missing objects are not an error.
func (d *DriveStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	err := d.service.Files.Delete(key).Context(ctx).Do()
	if err != nil && !strings.Contains(err.Error(), "404") {
		return fmt.Errorf("failed to delete backup %s: %w", key, err)
	}
	return nil
}
