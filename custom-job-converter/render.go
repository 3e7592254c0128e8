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

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/applysetters"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/clouddeploy"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/gcs"
)

// renderer implements the requestHandler interface for performing a render.
type renderer struct {
	gcsClient      *storage.Client
	params         *params
	req            *clouddeploy.RenderRequest
	srcArchivePath string
	srcPath        string
}

// process processes the Render params by converting the component in the release archive
// into a component that launches a Vertex AI CustomJob.
func (r *renderer) process(ctx context.Context) error {
	fmt.Println("Processing render request")
	res, err := r.render(ctx)
	if err != nil {
		fmt.Printf("Render failed: %v\n", err)
		fr := &clouddeploy.RenderResult{
			ResultStatus:   clouddeploy.RenderFailed,
			FailureMessage: err.Error(),
		}
		r.addCommonMetadata(fr)
		fmt.Println("Uploading failed render results")
		rURI, uerr := r.req.UploadResult(ctx, r.gcsClient, fr)
		if uerr != nil {
			return fmt.Errorf("error uploading failed render results: %v", uerr)
		}
		fmt.Printf("Uploaded failed render results to %s\n", rURI)
		return err
	}
	r.addCommonMetadata(res)

	fmt.Println("Uploading successful render results")
	rURI, err := r.req.UploadResult(ctx, r.gcsClient, res)
	if err != nil {
		return fmt.Errorf("error uploading render results: %v", err)
	}
	fmt.Printf("Uploaded render results to %s\n", rURI)
	return nil
}

func (r *renderer) render(ctx context.Context) (*clouddeploy.RenderResult, error) {
	fmt.Printf("Downloading render input archive to %s and unarchiving to %s\n", r.srcArchivePath, r.srcPath)
	inURI, err := r.req.DownloadAndUnarchiveInput(ctx, r.gcsClient, r.srcArchivePath, r.srcPath)
	if err != nil {
		return nil, fmt.Errorf("unable to download and unarchive render input: %v", err)
	}
	fmt.Printf("Downloaded render input archive from %s\n", inURI)

	componentPath, err := r.sourcePath(r.params.componentPath)
	if err != nil {
		return nil, err
	}
	workerPoolSpecsPath, err := r.sourcePath(r.params.workerPoolSpecsPath)
	if err != nil {
		return nil, err
	}

	if err := applyDeployParams(componentPath, workerPoolSpecsPath); err != nil {
		return nil, err
	}

	out, err := convertComponent(ctx, r.gcsClient, componentPath, workerPoolSpecsPath, r.params.options)
	if err != nil {
		return nil, err
	}

	fmt.Println("Uploading converted component manifest")
	mURI, err := r.req.UploadArtifact(ctx, r.gcsClient, "manifest.yaml", out)
	if err != nil {
		return nil, fmt.Errorf("error uploading converted component manifest: %v", err)
	}
	fmt.Printf("Uploaded converted component manifest to %s\n", mURI)

	return &clouddeploy.RenderResult{
		ResultStatus: clouddeploy.RenderSucceeded,
		ManifestFile: mURI,
	}, nil
}

// sourcePath resolves a configured path against the unarchived release. Empty paths
// and Cloud Storage URIs are returned unchanged.
func (r *renderer) sourcePath(p string) (string, error) {
	if p == "" || gcs.IsURI(p) {
		return p, nil
	}
	return clouddeploy.SourcePath(r.srcPath, p)
}

// applyDeployParams replaces templated values in the release files with the values
// derived from deploy parameters.
func applyDeployParams(paths ...string) error {
	deployParams := clouddeploy.FetchDeployParameters()
	for _, p := range paths {
		if p == "" || gcs.IsURI(p) {
			continue
		}
		if err := applysetters.ApplyParamsToFile(p, deployParams); err != nil {
			return fmt.Errorf("cannot apply deploy parameters: %v", err)
		}
	}
	return nil
}

// addCommonMetadata inserts metadata into the render result that should be present
// regardless of render success or failure.
func (r *renderer) addCommonMetadata(rs *clouddeploy.RenderResult) {
	if rs.Metadata == nil {
		rs.Metadata = map[string]string{}
	}
	rs.Metadata[clouddeploy.CustomTargetSourceMetadataKey] = converterSampleName
	rs.Metadata[clouddeploy.CustomTargetSourceSHAMetadataKey] = clouddeploy.GitCommit
}
