package ingest

// indexer.go ingests local files and directories through the chunked
// pipeline: extension filtering, .gitignore support, and continue-on-error
// directory walks.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
)

// textIngestor is the processing pipeline the indexer feeds.
// Implemented by Processor.
type textIngestor interface {
	ProcessText(ctx context.Context, text string, meta DocumentMeta) (Result, error)
}

// defaultMIMEByExtension maps indexable file extensions to the MIME type
// that drives chunking strategy selection.
var defaultMIMEByExtension = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
	".go":   "text/plain",
	".py":   "text/plain",
	".js":   "text/plain",
	".ts":   "text/plain",
	".java": "text/plain",
	".c":    "text/plain",
	".cpp":  "text/plain",
	".h":    "text/plain",
	".rs":   "text/plain",
	".rb":   "text/plain",
	".sh":   "text/plain",
	".yaml": "text/plain",
	".yml":  "text/plain",
	".json": "text/plain",
	".xml":  "text/plain",
	".css":  "text/plain",
	".sql":  "text/plain",
}

// MaxFileSize is the largest file the indexer will ingest. Oversized files
// are skipped, not truncated.
const MaxFileSize = 10 << 20 // 10MB

// Target scopes indexed files to a knowledge base, tenant, and ACL.
type Target struct {
	KBID      string
	TenantID  string
	ACLUsers  []string
	ACLGroups []string
}

// IndexResult summarizes a directory indexing run.
type IndexResult struct {
	FilesAdded   int
	FilesSkipped int
	FilesFailed  int
	ChunksAdded  int
	TotalSize    int64
	Duration     time.Duration
}

// Indexer ingests local files.
type Indexer struct {
	pipeline            textIngestor
	supportedExtensions map[string]string
}

// NewIndexer creates a file indexer. extensions optionally restricts the
// indexable set (e.g. []string{".md", ".txt"}); nil means all defaults.
func NewIndexer(pipeline textIngestor, extensions []string) *Indexer {
	extMap := make(map[string]string)
	if len(extensions) > 0 {
		for _, ext := range extensions {
			ext = strings.ToLower(ext)
			if mime, ok := defaultMIMEByExtension[ext]; ok {
				extMap[ext] = mime
			} else {
				extMap[ext] = "text/plain"
			}
		}
	} else {
		for ext, mime := range defaultMIMEByExtension {
			extMap[ext] = mime
		}
	}
	return &Indexer{pipeline: pipeline, supportedExtensions: extMap}
}

// AddFile ingests a single file into the target knowledge base.
func (idx *Indexer) AddFile(ctx context.Context, filePath string, target Target) (Result, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Read through os.Root so symlinks cannot escape the parent directory.
	parentDir := filepath.Dir(absPath)
	fileName := filepath.Base(absPath)

	root, err := os.OpenRoot(parentDir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open root directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	info, err := root.Stat(fileName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("path is a directory, use AddDirectory instead")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	mime, ok := idx.supportedExtensions[ext]
	if !ok {
		return Result{}, fmt.Errorf("unsupported file type: %s", ext)
	}
	if info.Size() > MaxFileSize {
		return Result{}, fmt.Errorf("file %s (%d bytes) exceeds the %d byte limit",
			fileName, info.Size(), MaxFileSize)
	}

	content, err := root.ReadFile(fileName)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}

	return idx.pipeline.ProcessText(ctx, string(content), DocumentMeta{
		KBID:       target.KBID,
		DocumentID: fileDocumentID(absPath),
		TenantID:   target.TenantID,
		Filename:   fileName,
		MIMEType:   mime,
		ACLUsers:   target.ACLUsers,
		ACLGroups:  target.ACLGroups,
	})
}

// AddDirectory recursively ingests all supported files under dirPath.
// Individual file failures are counted, not fatal; a directory with one
// unreadable file still indexes the rest.
func (idx *Indexer) AddDirectory(ctx context.Context, dirPath string, target Target) (*IndexResult, error) {
	startTime := time.Now()
	result := &IndexResult{}

	absDirPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute directory path: %w", err)
	}

	root, err := os.OpenRoot(absDirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}
	defer func() {
		_ = root.Close()
	}()

	// A malformed .gitignore is ignored rather than failing the walk.
	var gitIgnore *ignore.GitIgnore
	gitignorePath := filepath.Join(absDirPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		gitIgnore, err = ignore.CompileIgnoreFile(gitignorePath)
		if err != nil {
			gitIgnore = nil
		}
	}

	if err = filepath.Walk(absDirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			result.FilesFailed++
			return nil
		}

		relPath, err := filepath.Rel(absDirPath, path)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			result.FilesSkipped++
			return nil
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		mime, ok := idx.supportedExtensions[ext]
		if !ok {
			result.FilesSkipped++
			return nil
		}
		if info.Size() > MaxFileSize {
			result.FilesSkipped++
			return nil
		}

		content, err := root.ReadFile(relPath)
		if err != nil {
			result.FilesFailed++
			return nil
		}

		res, err := idx.pipeline.ProcessText(ctx, string(content), DocumentMeta{
			KBID:       target.KBID,
			DocumentID: fileDocumentID(path),
			TenantID:   target.TenantID,
			Filename:   filepath.Base(path),
			MIMEType:   mime,
			ACLUsers:   target.ACLUsers,
			ACLGroups:  target.ACLGroups,
		})
		if err != nil {
			result.FilesFailed++
			return nil
		}

		result.FilesAdded++
		result.ChunksAdded += res.ChunkCount
		result.TotalSize += info.Size()
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result.Duration = time.Since(startTime)
	return result, nil
}

// fileDocumentID derives a stable document ID from the file's absolute
// path, so re-indexing the same file updates its chunks in place.
func fileDocumentID(filePath string) string {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}
	return "file_" + ContentHash([]byte(absPath))[:32]
}
