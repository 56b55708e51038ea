// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Corphon/ManimStudio/internal/utils"
)

// FileStorage stores run files beneath BaseDir
type FileStorage struct {
	BaseDir string

	fileLocks sync.Map // path -> *sync.RWMutex
}

// NewFileStorage creates the base directory and returns a storage rooted at it
func NewFileStorage(baseDir string) (*FileStorage, error) {
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStorage{BaseDir: absDir}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Path returns the absolute path of filename inside dirPath
func (fs *FileStorage) Path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// EnsureDir creates dirPath under BaseDir and returns its absolute path
func (fs *FileStorage) EnsureDir(dirPath string) (string, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", fullPath, err)
	}
	return fullPath, nil
}

// SaveTextFile replaces the file with content. The write goes to a temp file in
// the same directory and is renamed into place, so readers never observe a mix of
// old and new bytes.
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(fullDirPath, "."+filename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		fs.removeTemp(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		fs.removeTemp(tempPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		fs.removeTemp(tempPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		fs.removeTemp(tempPath)
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

func (fs *FileStorage) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		utils.GetLogger().Warn("failed to clean up temporary file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
}

// SaveJSONFile writes data as indented JSON
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile reads a file under BaseDir
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// LoadJSONFile reads and decodes a JSON file
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func (fs *FileStorage) DirExists(dirPath string) bool {
	info, err := os.Stat(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		return false
	}
	return info.IsDir()
}

func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	info, err := os.Stat(filepath.Join(fs.BaseDir, dirPath, filename))
	return err == nil && info.Mode().IsRegular()
}

// DeleteDir removes a directory and everything in it
func (fs *FileStorage) DeleteDir(dirPath string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", fullPath)
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("remove directory: %w", err)
	}
	return nil
}

// ListDirs lists the subdirectories of dirPath
func (fs *FileStorage) ListDirs(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}
