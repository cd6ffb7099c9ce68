// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mnist downloads the MNIST database of handwritten digits and loads
// its images as tensors ready for training.
//
// Images are parsed from the original IDX files and returned normalized to
// [0, 1] as float32 tensors shaped [numImages, 28, 28, 1]. Labels are
// downloaded alongside for completeness but not parsed: reconstruction
// training is self-supervised and has no use for them.
package mnist

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"

	"github.com/gomlx/autoencoder/downloader"
)

const (
	downloadURL         = "https://storage.googleapis.com/cvdf-datasets/mnist"
	trainImagesFilename = "train-images-idx3-ubyte.gz"
	trainLabelsFilename = "train-labels-idx1-ubyte.gz"
	testImagesFilename  = "t10k-images-idx3-ubyte.gz"
	testLabelsFilename  = "t10k-labels-idx1-ubyte.gz"

	imageMagic = 0x00000803

	// Width and Height of every MNIST image, in pixels.
	Width  = 28
	Height = 28

	// NumTrainImages and NumTestImages are the sizes of the two splits.
	NumTrainImages = 60000
	NumTestImages  = 10000
)

var splitImagesFile = map[string]string{
	"train": trainImagesFilename,
	"test":  testImagesFilename,
}

// imageFileHeader is the big-endian header of an IDX image file.
type imageFileHeader struct {
	Magic     int32
	NumImages int32
	Height    int32
	Width     int32
}

// Download fetches the four MNIST files to baseDir, skipping files already
// present. It is safe to call before every run.
func Download(baseDir string) error {
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return errors.WithMessagef(err, "failed to resolve the download directory")
	}
	files := []string{trainImagesFilename, trainLabelsFilename, testImagesFilename, testLabelsFilename}
	for _, file := range files {
		fileURL, err := url.JoinPath(downloadURL, file)
		if err != nil {
			return errors.Wrapf(err, "failed to build the download URL for %q", file)
		}
		if err := downloader.DownloadIfMissing(fileURL, path.Join(baseDir, file), ""); err != nil {
			return errors.WithMessagef(err, "failed to download %q", file)
		}
	}
	return nil
}

// Images loads the images of the given split ("train" or "test") from the
// files saved by Download under baseDir.
//
// If limit > 0 only the first limit images of the split are read. The
// returned tensor is shaped [numImages, Height, Width, 1], with pixel values
// scaled to [0, 1].
func Images(baseDir, split string, limit int) (*tensors.Tensor, error) {
	imagesFile, ok := splitImagesFile[split]
	if !ok {
		return nil, errors.Errorf("split must be \"train\" or \"test\", got %q", split)
	}
	baseDir, err := fsutil.ReplaceTildeInDir(baseDir)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to resolve the data directory")
	}
	return readImagesFile(path.Join(baseDir, imagesFile), limit)
}

func readImagesFile(filePath string, limit int) (*tensors.Tensor, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q, has it been downloaded?", filePath)
	}
	defer func() { _ = f.Close() }()
	reader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to un-gzip %q", filePath)
	}
	defer func() { _ = reader.Close() }()

	var header imageFileHeader
	if err := binary.Read(reader, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrapf(err, "failed to read the header of %q", filePath)
	}
	if header.Magic != imageMagic || header.Width != Width || header.Height != Height || header.NumImages < 0 {
		return nil, errors.Errorf("%q is not an MNIST image file (magic=0x%08x, %dx%d images)",
			filePath, header.Magic, header.Height, header.Width)
	}
	numImages := int(header.NumImages)
	if limit > 0 && limit < numImages {
		numImages = limit
	}

	pixels := make([]byte, numImages*Height*Width)
	if _, err := io.ReadFull(reader, pixels); err != nil {
		return nil, errors.Wrapf(err, "failed to read %d images from %q", numImages, filePath)
	}
	values := make([]float32, len(pixels))
	for i, pixel := range pixels {
		values[i] = float32(pixel) / 255
	}
	return tensors.FromFlatDataAndDimensions(values, numImages, Height, Width, 1), nil
}
