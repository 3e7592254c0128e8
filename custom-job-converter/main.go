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
	"fmt"
	"os"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/clouddeploy"
)

func main() {
	if err := do(); err != nil {
		fmt.Fprintf(os.Stderr, "err: %v\n", err)
		os.Exit(1)
	}
}

func do() error {
	ctx := context.Background()

	if !clouddeploy.InCloudDeploy() {
		return runLocal(ctx, os.Args[1:], os.Stdout, newStorageClient)
	}

	gcsClient, err := newStorageClient(ctx)
	if err != nil {
		return fmt.Errorf("unable to create gcs client: %v", err)
	}
	defer gcsClient.Close()

	req, err := clouddeploy.DetermineRequest(ctx, gcsClient, []string{"CANARY"})
	if err != nil {
		return err
	}

	params, err := determineParams()
	if err != nil {
		return fmt.Errorf("unable to parse params: %v", err)
	}

	handler, err := createRequestHandler(req, params, gcsClient)
	if err != nil {
		return fmt.Errorf("unable to create request handler: %v", err)
	}

	if err := handler.process(ctx); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

func newStorageClient(ctx context.Context) (*storage.Client, error) {
	return storage.NewClient(ctx)
}
