// Package fetcher downloads published GTFS archives.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/horarios-data/internal/common/logger"
)

type HTTPDownloader struct {
	client *http.Client
	logger logger.Logger
}

func NewHTTPDownloader(logger logger.Logger) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: 5 * time.Minute, // Large feeds may take time
		},
		logger: logger,
	}
}

// Download fetches url into destPath. When destPath already exists the
// request is conditional on its modification time and changed is false on
// 304 Not Modified. The file is replaced atomically.
func (d *HTTPDownloader) Download(ctx context.Context, url string, destPath string) (changed bool, err error) {
	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return false, fmt.Errorf("creating destination directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	if info, err := os.Stat(destPath); err == nil {
		req.Header.Set("If-Modified-Since", info.ModTime().UTC().Format(http.TimeFormat))
	}

	d.logger.Info("Starting download", "url", url, "dest", destPath)

	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		d.logger.Info("Feed archive not modified", "url", url)
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp(destDir, "gtfs_download_*.tmp")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // no-op after a successful rename

	written, err := d.copyWithProgress(tempFile, resp.Body, resp.ContentLength)
	tempFile.Close()
	if err != nil {
		return false, fmt.Errorf("downloading file: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return false, fmt.Errorf("moving file to destination: %w", err)
	}

	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		if err := os.Chtimes(destPath, lm, lm); err != nil {
			d.logger.Warn("Could not stamp Last-Modified on archive", "dest", destPath, "error", err)
		}
	}

	d.logger.Info("Download completed",
		"url", url,
		"dest", destPath,
		"size_bytes", written)

	return true, nil
}

func (d *HTTPDownloader) copyWithProgress(dst io.Writer, src io.Reader, totalSize int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastLog := time.Now()

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[:nr])
			if err != nil {
				return written, err
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			if time.Since(lastLog) > 5*time.Second && totalSize > 0 {
				d.logger.Debug("Download progress",
					"progress_percent", fmt.Sprintf("%.1f", float64(written)/float64(totalSize)*100),
					"bytes_downloaded", written,
					"total_bytes", totalSize)
				lastLog = time.Now()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
