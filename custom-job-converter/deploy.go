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
	"strings"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/clouddeploy"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/component"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/gcs"
)

// deployer implements the requestHandler interface to publish a converted component.
type deployer struct {
	gcsClient     *storage.Client
	params        *params
	req           *clouddeploy.DeployRequest
	localManifest string
}

// process processes the Deploy request, and publishes the converted component to the destination.
func (d *deployer) process(ctx context.Context) error {
	fmt.Println("Processing deploy request")

	res, err := d.deploy(ctx)
	if err != nil {
		fmt.Printf("Deploy failed: %v\n", err)
		dr := &clouddeploy.DeployResult{
			ResultStatus:   clouddeploy.DeployFailed,
			FailureMessage: err.Error(),
		}
		d.addCommonMetadata(dr)
		fmt.Println("Uploading failed deploy results")
		rURI, uerr := d.req.UploadResult(ctx, d.gcsClient, dr)
		if uerr != nil {
			return fmt.Errorf("error uploading failed deploy results: %v", uerr)
		}
		fmt.Printf("Uploaded failed deploy results to %s\n", rURI)
		return err
	}
	d.addCommonMetadata(res)

	fmt.Println("Uploading successful deploy results")
	rURI, err := d.req.UploadResult(ctx, d.gcsClient, res)
	if err != nil {
		return fmt.Errorf("error uploading deploy results: %v", err)
	}
	fmt.Printf("Uploaded deploy results to %s\n", rURI)
	return nil
}

// deploy copies the rendered component to the destination.
func (d *deployer) deploy(ctx context.Context) (*clouddeploy.DeployResult, error) {
	if d.params.destination == "" {
		return nil, fmt.Errorf("parameter %q is required", destinationEnvKey)
	}
	if !gcs.IsURI(d.params.destination) {
		return nil, fmt.Errorf("parameter %q must be a Cloud Storage URI, got %q", destinationEnvKey, d.params.destination)
	}

	fmt.Printf("Downloading deploy input manifest from %q.\n", d.req.ManifestGCSPath)
	if _, err := d.req.DownloadManifest(ctx, d.gcsClient, d.localManifest); err != nil {
		return nil, fmt.Errorf("unable to download deploy input from %s: %v", d.req.ManifestGCSPath, err)
	}
	data, err := os.ReadFile(d.localManifest)
	if err != nil {
		return nil, fmt.Errorf("unable to read deploy input: %v", err)
	}
	spec, err := component.Load(data)
	if err != nil {
		return nil, fmt.Errorf("deploy input is not a valid component: %v", err)
	}

	dest := destinationURI(d.params.destination, spec.Name)
	fmt.Printf("Publishing component %q to %s\n", spec.Name, dest)
	if err := gcs.Write(ctx, d.gcsClient, dest, data); err != nil {
		return nil, fmt.Errorf("unable to publish component: %v", err)
	}

	return &clouddeploy.DeployResult{
		ResultStatus:  clouddeploy.DeploySucceeded,
		ArtifactFiles: []string{dest},
	}, nil
}

// destinationURI returns the object URI for a component. Destinations ending in "/"
// are directories and get a file name derived from the component name.
func destinationURI(destination, name string) string {
	if !strings.HasSuffix(destination, "/") {
		return destination
	}
	return destination + componentFileName(name)
}

// componentFileName turns a component name into a lowercase dash separated YAML file name.
func componentFileName(name string) string {
	f := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + 'a' - 'A'
		default:
			return '-'
		}
	}, strings.TrimSpace(name))
	if f = strings.Trim(f, "-"); f == "" {
		f = "component"
	}
	return f + ".yaml"
}

// addCommonMetadata inserts metadata into the deploy result that should be present
// regardless of deploy success or failure.
func (d *deployer) addCommonMetadata(rs *clouddeploy.DeployResult) {
	if rs.Metadata == nil {
		rs.Metadata = map[string]string{}
	}
	rs.Metadata[clouddeploy.CustomTargetSourceMetadataKey] = converterSampleName
	rs.Metadata[clouddeploy.CustomTargetSourceSHAMetadataKey] = clouddeploy.GitCommit
}
