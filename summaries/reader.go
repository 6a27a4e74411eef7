// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package summaries

import (
	"encoding/json"
	"io"
	"os"
	"path"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// ReadManifest reads the run manifest of the given summary directory.
func ReadManifest(dir string) (Manifest, error) {
	dir = fsutil.MustReplaceTildeInDir(dir)
	filePath := path.Join(dir, ManifestFilename)
	encoded, err := os.ReadFile(filePath)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, "failed to read run manifest %q -- is %q a summary directory?",
			filePath, dir)
	}
	var manifest Manifest
	if err = json.Unmarshal(encoded, &manifest); err != nil {
		return Manifest{}, errors.Wrapf(err, "failed to parse run manifest %q", filePath)
	}
	return manifest, nil
}

// ReadScalars parses all scalar records flushed to the given summary
// directory, in the order they were recorded.
func ReadScalars(dir string) ([]Scalar, error) {
	dir = fsutil.MustReplaceTildeInDir(dir)
	filePath := path.Join(dir, ScalarsFilename)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scalars file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var scalars []Scalar
	for {
		var s Scalar
		err := dec.Decode(&s)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding scalars file %q", filePath)
		}
		scalars = append(scalars, s)
	}
	return scalars, nil
}

// ListImages returns the image summary files (relative to dir) recorded in
// the given summary directory, sorted by name -- so, per tag, in step order.
func ListImages(dir string) ([]string, error) {
	dir = fsutil.MustReplaceTildeInDir(dir)
	entries, err := os.ReadDir(path.Join(dir, ImagesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list image summaries of %q", dir)
	}
	images := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		images = append(images, path.Join(ImagesDirName, entry.Name()))
	}
	return images, nil
}
