// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downloader fetches dataset files over HTTP, with a progress bar on
// the terminal and idempotent skip-if-present semantics.
package downloader

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// progressWriter forwards writes to w while advancing a progress bar sized
// for contentLength bytes.
type progressWriter struct {
	w             io.Writer
	bar           *progressbar.ProgressBar
	unit          int64
	numUnits      int64
	written       int64
	reportedUnits int64
}

func newProgressWriter(w io.Writer, contentLength int64) *progressWriter {
	pw := &progressWriter{w: w, unit: 1}
	for contentLength > pw.unit*1024*1024 {
		pw.unit *= 1024
	}
	pw.numUnits = (contentLength + pw.unit - 1) / pw.unit
	pw.bar = progressbar.NewOptions(int(pw.numUnits),
		progressbar.OptionSetDescription(fsutil.ByteCountIEC(contentLength)),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	return pw
}

func (pw *progressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.w.Write(p)
	pw.written += int64(n)
	if units := pw.written / pw.unit; units > pw.reportedUnits {
		_ = pw.bar.Add(int(units - pw.reportedUnits))
		pw.reportedUnits = units
	}
	return
}

// CopyWithProgressBar is io.Copy displaying a progress bar sized for
// contentLength, which must be known up-front.
func CopyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64) (n int64, err error) {
	pw := newProgressWriter(dst, contentLength)
	n, err = io.Copy(pw, src)
	if pw.reportedUnits < pw.numUnits {
		_ = pw.bar.Add(int(pw.numUnits - pw.reportedUnits))
	}
	_ = pw.bar.Close()
	fmt.Println()
	return
}

// Download fetches url and saves it at filePath, creating the parent
// directory if needed. It returns the number of bytes written.
func Download(url, filePath string, showProgressBar bool) (size int64, err error) {
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return 0, err
	}
	if err = os.MkdirAll(path.Dir(filePath), 0777); err != nil && !os.IsExist(err) {
		return 0, errors.Wrapf(err, "failed to create the directory %q", path.Dir(filePath))
	}
	file, err := os.Create(filePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create the file %q", filePath)
	}

	client := http.Client{
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			r.URL.Opaque = r.URL.Path
			return nil
		},
	}
	resp, err := client.Get(url)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to download %q", url)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		_ = file.Close()
		return 0, errors.Errorf("failed to download %q: %s", url, resp.Status)
	}

	if showProgressBar {
		size, err = CopyWithProgressBar(file, resp.Body, resp.ContentLength)
	} else {
		size, err = io.Copy(file, resp.Body)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed downloading %q to %q", url, filePath)
	}
	if err = file.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed to close %q", filePath)
	}
	if err = resp.Body.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed to close the connection to %q", url)
	}
	return size, nil
}

// DownloadIfMissing fetches url to filePath unless the file already exists.
//
// If checkHash is not empty, the file contents (pre-existing or freshly
// downloaded) must match the given SHA256 hash.
func DownloadIfMissing(url, filePath, checkHash string) error {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", filePath)
	}
	if !exists {
		fmt.Printf("Downloading %s ...\n", url)
		if _, err := Download(url, filePath, true); err != nil {
			return err
		}
	}
	if checkHash == "" {
		return nil
	}
	return fsutil.ValidateChecksum(filePath, checkHash)
}
