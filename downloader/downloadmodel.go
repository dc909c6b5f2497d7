// Copyright 2022 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

const (
	// Hugging Face repository URL prefix; the full URL has the format
	// "{base}/{model_id}/resolve/{revision}/{filename}"
	huggingFaceCoPrefix = "https://huggingface.co"
	// Default revision name for fetching model from Hugging Face repository
	defaultRevision = "main"
)

// DefaultFiles contains the files of a model directory.
var DefaultFiles = []string{
	"config.yaml", "model.pt", "vocab.src.json", "vocab.trg.json",
}

// Config describes what to download and where.
type Config struct {
	// ModelsDir is the directory where the model directory is created.
	ModelsDir string
	// ModelName is the repository name, in the format "organization/model".
	ModelName string
	// Revision defaults to "main".
	Revision string
	// Files default to DefaultFiles.
	Files []string
	// OverwriteIfExist forces the download of files that already exist.
	OverwriteIfExist bool
	AccessToken      string
	// BaseURL defaults to "https://huggingface.co".
	BaseURL string
	// ProgressOutput, if not nil, receives a progress bar for each file.
	ProgressOutput io.Writer
}

// Download downloads a model from a huggingface.co repository into
// the directory ModelsDir/ModelName, and returns the latter.
//
// If one or more directory levels don't yet exist, they are created
// setting the permissions bits to 0755 (rwxr-xr-x).
//
// By setting the flag OverwriteIfExist to false, any file that already
// exists is kept and considered as already successfully downloaded. If
// the flag is otherwise set to true, existing files will be forcefully
// downloaded and overwritten.
func Download(ctx context.Context, conf Config) (string, error) {
	if conf.Revision == "" {
		conf.Revision = defaultRevision
	}
	if len(conf.Files) == 0 {
		conf.Files = DefaultFiles
	}
	if conf.BaseURL == "" {
		conf.BaseURL = huggingFaceCoPrefix
	}
	d := downloader{
		Config:    conf,
		modelPath: filepath.Join(conf.ModelsDir, conf.ModelName),
	}
	return d.modelPath, d.download(ctx)
}

// downloader is a helper struct for downloading a model.
type downloader struct {
	Config
	modelPath string
}

func (d downloader) download(ctx context.Context) error {
	if err := d.ensureModelPath(); err != nil {
		return err
	}
	for _, filename := range d.Files {
		if err := d.downloadFile(ctx, filename); err != nil {
			return err
		}
	}
	return nil
}

func (d downloader) ensureModelPath() error {
	if info, err := os.Stat(d.modelPath); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(d.modelPath, 0755); err != nil {
		return fmt.Errorf("error creating model path %#v: %w", d.modelPath, err)
	}
	return nil
}

func (d downloader) downloadFile(ctx context.Context, name string) (err error) {
	fPath := filepath.Join(d.modelPath, name)
	if info, err := os.Stat(fPath); !d.OverwriteIfExist && err == nil && !info.IsDir() {
		log.Debug().Str("file", fPath).Msg("model file already exists, skipping download")
		return nil
	}

	url := d.fileURL(name)
	log.Debug().Str("url", url).Str("destination", fPath).Msg("downloading")

	resp, err := d.httpGet(ctx, url)
	if err != nil {
		return fmt.Errorf("error getting %#v: %w", url, err)
	}
	defer func() {
		if e := resp.Body.Close(); e != nil && err == nil {
			err = fmt.Errorf("error closing %#v response body: %w", url, e)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%#v responded with %s", url, resp.Status)
	}

	f, err := os.Create(fPath)
	if err != nil {
		return fmt.Errorf("error creating file %#v: %w", fPath, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("error closing file %#v: %w", fPath, e)
		}
	}()

	var w io.Writer = f
	if d.ProgressOutput != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription(name),
			progressbar.OptionSetWriter(d.ProgressOutput),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(d.ProgressOutput) }),
		)
		defer func() { _ = bar.Finish() }()
		w = io.MultiWriter(f, bar)
	}

	if _, err = io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("error downloading %#v to %#v: %w", url, fPath, err)
	}
	return nil
}

func (d downloader) httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.AccessToken)
	}
	return http.DefaultClient.Do(req)
}

func (d downloader) fileURL(fileName string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", d.BaseURL, d.ModelName, d.Revision, fileName)
}
