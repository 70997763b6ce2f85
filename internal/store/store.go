package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrFileNotFound = errors.New("file not found in catalog")

// FileRepository defines catalog operations.
type FileRepository interface {
	CreateFile(ctx context.Context, file SharedFile) (SharedFile, bool, error)
	GetFileByFileID(ctx context.Context, fileID string) (SharedFile, error)
	GetFiles(ctx context.Context) ([]SharedFile, error)
	DeleteFile(ctx context.Context, fileID string) error
}

var _ FileRepository = (*FileStore)(nil)

type FileStore struct {
	db *gorm.DB
}

func NewFileStore(db *gorm.DB) *FileStore {
	return &FileStore{db: db}
}

// CreateFile inserts file unless its FileID is already catalogued, in which
// case the existing row is returned and created is false.
func (fs *FileStore) CreateFile(ctx context.Context, file SharedFile) (SharedFile, bool, error) {
	existing, err := fs.GetFileByFileID(ctx, file.FileID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrFileNotFound) {
		return SharedFile{}, false, err
	}

	file.ID = 0
	if err := fs.db.WithContext(ctx).Create(&file).Error; err != nil {
		return SharedFile{}, false, fmt.Errorf("creating file: %w", err)
	}
	return file, true, nil
}

func (fs *FileStore) GetFileByFileID(ctx context.Context, fileID string) (SharedFile, error) {
	var file SharedFile
	err := fs.db.WithContext(ctx).Where("file_id = ?", fileID).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SharedFile{}, ErrFileNotFound
	}
	if err != nil {
		return SharedFile{}, fmt.Errorf("getting file %s: %w", fileID, err)
	}
	return file, nil
}

func (fs *FileStore) GetFiles(ctx context.Context) ([]SharedFile, error) {
	var files []SharedFile
	if err := fs.db.WithContext(ctx).Order("created_at, id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return files, nil
}

func (fs *FileStore) DeleteFile(ctx context.Context, fileID string) error {
	res := fs.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&SharedFile{})
	if res.Error != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFileNotFound
	}
	return nil
}

// HashFile returns the hex sha256 of the file at path and its size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Describe builds the catalog row for the regular file at path. An empty
// fileID is replaced by a fresh uuid.
func Describe(path, fileID string) (SharedFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return SharedFile{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return SharedFile{}, err
	}
	if !info.Mode().IsRegular() {
		return SharedFile{}, fmt.Errorf("%s is not a regular file", path)
	}

	checksum, size, err := HashFile(abs)
	if err != nil {
		return SharedFile{}, err
	}
	if fileID == "" {
		fileID = uuid.NewString()
	}
	return SharedFile{
		FileID:   fileID,
		Name:     filepath.Base(abs),
		Path:     abs,
		Size:     size,
		Checksum: checksum,
	}, nil
}
