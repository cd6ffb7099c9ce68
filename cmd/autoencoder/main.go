// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Command autoencoder trains a convolutional autoencoder on MNIST digits.
//
//  1. With `autoencoder --summary`: prints the architecture of the model and exits.
//  2. With `autoencoder --train` (the default): downloads MNIST, trains the model,
//     reports its reconstruction error, saves it under --model and verifies the
//     saved model loads back identically.
//  3. With `autoencoder --reconstruct=N`: loads the saved model, reconstructs N
//     test images and writes an originals-vs-reconstructions PNG sheet.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/autoencoder"
	"github.com/gomlx/autoencoder/mnist"

	_ "github.com/gomlx/gomlx/backends/simplego"
	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagSummary     = flag.Bool("summary", false, "Print the architecture of the model and exit.")
	flagTrain       = flag.Bool("train", true, "Train a model on MNIST and save it under --model.")
	flagReconstruct = flag.Int("reconstruct", 0,
		"Number of test images to reconstruct with the model saved under --model; writes a PNG sheet next to it.")
	flagDataDir  = flag.String("data", "~/.cache/gomlx/autoencoder", "Directory to cache the downloaded dataset.")
	flagModelDir = flag.String("model", "~/.cache/gomlx/autoencoder/model", "Directory to save and load the model.")

	flagExamples     = flag.Int("examples", 500, "Number of training images to use; 0 means the full training split.")
	flagBatchSize    = flag.Int("batch_size", 32, "Batch size used by training.")
	flagEpochs       = flag.Int("epochs", 20, "Number of training epochs.")
	flagLearningRate = flag.Float64("learning_rate", 0.0005, "Learning rate of the Adam optimizer.")
)

// defaultConfig is the MNIST architecture: four convolution blocks squeezing
// 28x28 images into a 2-dimensional latent space.
func defaultConfig() autoencoder.Config {
	return autoencoder.Config{
		InputShape:  [3]int{mnist.Height, mnist.Width, 1},
		ConvFilters: []int{32, 64, 64, 64},
		ConvKernels: []int{3, 3, 3, 3},
		ConvStrides: []int{1, 2, 2, 1},
		LatentDim:   2,
	}
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	err := exceptions.TryCatch[error](func() {
		if *flagSummary {
			printSummary()
			return
		}
		if *flagTrain {
			trainAndSave()
		}
		if *flagReconstruct > 0 {
			reconstructSheet(*flagReconstruct)
		}
		if !*flagTrain && *flagReconstruct <= 0 {
			klog.Info("Nothing to do: use --summary, --train and/or --reconstruct=<num_images>.")
		}
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
	}
}

func printSummary() {
	backend := must.M1(autoencoder.NewBackend())
	model := must.M1(autoencoder.New(backend, defaultConfig()))
	fmt.Print(model.Summary())
}

func trainAndSave() {
	backend := must.M1(autoencoder.NewBackend())
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	must.M(mnist.Download(*flagDataDir))
	images := must.M1(mnist.Images(*flagDataDir, "train", *flagExamples))
	fmt.Printf("Training on %d images of %s\n", images.Shape().Dimensions[0], images.Shape())

	model := must.M1(autoencoder.New(backend, defaultConfig()))
	fmt.Print(model.Summary())
	model.Compile(*flagLearningRate)
	must.M(model.Train(images, *flagBatchSize, *flagEpochs))
	fmt.Printf("Reconstruction error (MSE): %.6f\n", must.M1(model.ReconstructionError(images)))

	must.M(model.Save(*flagModelDir))
	klog.Infof("Model saved to %s", *flagModelDir)

	// Verify the artifact restores to a model that infers identically.
	reloaded := must.M1(autoencoder.Load(backend, *flagModelDir))
	fmt.Printf("Reconstruction error after save and reload: %.6f\n",
		must.M1(reloaded.ReconstructionError(images)))
}

func reconstructSheet(numImages int) {
	backend := must.M1(autoencoder.NewBackend())
	model := must.M1(autoencoder.Load(backend, *flagModelDir))

	must.M(mnist.Download(*flagDataDir))
	images := must.M1(mnist.Images(*flagDataDir, "test", numImages))
	reconstructions := must.M1(model.Reconstruct(images))

	sheetPath := filepath.Join(fsutil.MustReplaceTildeInDir(*flagModelDir), "reconstructions.png")
	must.M(writeSheet(sheetPath, images, reconstructions))
	klog.Infof("Wrote %d reconstructions to %s", numImages, sheetPath)
}

// writeSheet renders originals on the top row and their reconstructions below,
// upscaled 4x, and encodes the sheet as PNG.
func writeSheet(filePath string, originals, reconstructions *tensors.Tensor) error {
	const scale = 4
	dims := originals.Shape().Dimensions
	numImages, height, width := dims[0], dims[1], dims[2]

	var sheet image.Image = image.NewRGBA(image.Rect(0, 0, numImages*width*scale, 2*height*scale))
	for row, batch := range []*tensors.Tensor{originals, reconstructions} {
		values := tensors.MustCopyFlatData[float32](batch)
		for i := range numImages {
			img := image.NewGray(image.Rect(0, 0, width, height))
			for p, v := range values[i*height*width : (i+1)*height*width] {
				img.Pix[p] = uint8(min(max(v, 0), 1)*255 + 0.5)
			}
			big := imaging.Resize(img, width*scale, height*scale, imaging.NearestNeighbor)
			sheet = imaging.Paste(sheet, big, image.Pt(i*width*scale, row*height*scale))
		}
	}

	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	if err := png.Encode(f, sheet); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
