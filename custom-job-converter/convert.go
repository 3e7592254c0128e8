// Copyright 2024 Google LLC

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     https://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/component"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/customjob"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/gcs"
	"github.com/spf13/pflag"
)

// convertComponent loads the component at componentPath, converts it with the provided
// options and returns the YAML of the converted component. Paths may be local or gs:// URIs.
func convertComponent(ctx context.Context, gcsClient *storage.Client, componentPath, workerPoolSpecsPath string, opts customjob.Options) ([]byte, error) {
	data, err := readSource(ctx, gcsClient, componentPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read component: %v", err)
	}
	spec, err := component.Load(data)
	if err != nil {
		return nil, fmt.Errorf("unable to load component from %s: %v", componentPath, err)
	}

	if workerPoolSpecsPath != "" {
		wps, err := readSource(ctx, gcsClient, workerPoolSpecsPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read worker pool specs: %v", err)
		}
		if opts.WorkerPoolSpecs, err = customjob.ParseWorkerPoolSpecs(wps); err != nil {
			return nil, fmt.Errorf("unable to parse worker pool specs from %s: %v", workerPoolSpecsPath, err)
		}
	}

	fmt.Fprintf(os.Stderr, "Converting component %q\n", spec.Name)
	converted, err := customjob.Convert(spec, opts)
	if err != nil {
		return nil, fmt.Errorf("unable to convert component %q: %v", spec.Name, err)
	}
	return converted.YAML()
}

// readSource reads a local file or a Cloud Storage object.
func readSource(ctx context.Context, gcsClient *storage.Client, path string) ([]byte, error) {
	if gcs.IsURI(path) {
		if gcsClient == nil {
			return nil, fmt.Errorf("no Cloud Storage client to read %s", path)
		}
		return gcs.Read(ctx, gcsClient, path)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to a local file, a Cloud Storage object, or w if path is empty.
func writeOutput(ctx context.Context, gcsClient *storage.Client, path string, data []byte, w io.Writer) error {
	switch {
	case path == "":
		_, err := w.Write(data)
		return err
	case gcs.IsURI(path):
		if gcsClient == nil {
			return fmt.Errorf("no Cloud Storage client to write %s", path)
		}
		return gcs.Write(ctx, gcsClient, path, data)
	default:
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
}

// runLocal converts a component outside of Cloud Deploy. Flags default to the deploy
// parameter environment variables so a target's configuration can be tried locally.
func runLocal(ctx context.Context, args []string, stdout io.Writer, newClient func(context.Context) (*storage.Client, error)) error {
	p, err := determineParams()
	if err != nil {
		return fmt.Errorf("unable to parse params: %v", err)
	}
	fs := pflag.NewFlagSet("custom-job-converter", pflag.ContinueOnError)
	p.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var gcsClient *storage.Client
	if gcs.IsURI(p.componentPath) || gcs.IsURI(p.workerPoolSpecsPath) || gcs.IsURI(p.outputPath) {
		if gcsClient, err = newClient(ctx); err != nil {
			return fmt.Errorf("unable to create gcs client: %v", err)
		}
		defer gcsClient.Close()
	}

	out, err := convertComponent(ctx, gcsClient, p.componentPath, p.workerPoolSpecsPath, p.options)
	if err != nil {
		return err
	}
	if err := writeOutput(ctx, gcsClient, p.outputPath, out, stdout); err != nil {
		return fmt.Errorf("unable to write converted component: %v", err)
	}
	if p.outputPath != "" {
		fmt.Fprintf(os.Stderr, "Wrote converted component to %s\n", p.outputPath)
	}
	return nil
}
