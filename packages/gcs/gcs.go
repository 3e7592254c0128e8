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

// Package gcs provides functions for reading and writing component files in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	retry "github.com/avast/retry-go/v4"
	"google.golang.org/api/googleapi"
)

const (
	// Scheme is the URI scheme of Cloud Storage objects.
	Scheme = "gs"

	writeAttempts = 3
	writeDelay    = time.Second
)

// IsURI reports whether s is a Cloud Storage URI instead of a local path.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme+"://")
}

// Read returns the content of the Cloud Storage object at the specified URI.
func Read(ctx context.Context, gcsClient *storage.Client, gcsURI string) ([]byte, error) {
	gcsObj, err := parseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}
	r, err := gcsClient.Bucket(gcsObj.bucket).Object(gcsObj.name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to read %q: %v", gcsURI, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Download downloads the Cloud Storage object for the specified URI to the provided local path.
func Download(ctx context.Context, gcsClient *storage.Client, gcsURI, localPath string) error {
	data, err := Read(ctx, gcsClient, gcsURI)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

// Write uploads data to the specified Cloud Storage URI. Transient errors are retried.
func Write(ctx context.Context, gcsClient *storage.Client, gcsURI string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("no content to upload to %q", gcsURI)
	}
	gcsObj, err := parseGCSURI(gcsURI)
	if err != nil {
		return err
	}
	return retry.Do(
		func() error {
			w := gcsClient.Bucket(gcsObj.bucket).Object(gcsObj.name).NewWriter(ctx)
			if _, err := w.Write(data); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
		retry.Context(ctx),
		retry.RetryIf(isTransient),
		retry.Attempts(writeAttempts),
		retry.Delay(writeDelay),
		retry.LastErrorOnly(true),
	)
}

// isTransient reports whether err is a rate limiting or server error.
func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

// gcsObjectURI is used to split the object Cloud Storage URI into the bucket and name.
type gcsObjectURI struct {
	// bucket the GCS object is in.
	bucket string
	// name of the GCS object.
	name string
}

// parseGCSURI parses the Cloud Storage URI and returns the corresponding gcsObjectURI.
func parseGCSURI(uri string) (gcsObjectURI, error) {
	var obj gcsObjectURI
	u, err := url.Parse(uri)
	if err != nil {
		return gcsObjectURI{}, fmt.Errorf("cannot parse URI %q: %w", uri, err)
	}
	if u.Scheme != Scheme {
		return gcsObjectURI{}, fmt.Errorf("URI scheme is %q, must be 'gs'", u.Scheme)
	}
	if u.Host == "" {
		return gcsObjectURI{}, errors.New("bucket name is empty")
	}
	obj.bucket = u.Host
	obj.name = strings.TrimLeft(u.Path, "/")
	if obj.name == "" {
		return gcsObjectURI{}, errors.New("object name is empty")
	}
	return obj, nil
}
