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

// Package clouddeploy provides functionality for working with Cloud Deploy custom
// render and custom deploy requests and results.
package clouddeploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/gcs"
	"github.com/mholt/archiver/v3"
)

// GitCommit SHA to be set during build time of the binary.
var GitCommit = "unknown"

const (
	// cloudDeployPrefix is the prefix for environment variables containing information about the deployment
	cloudDeployPrefix = "CLOUD_DEPLOY_"

	// cloudDeployCustomTargetPrefix is the prefix for deploy parameters that are supported or required by the custom target.
	cloudDeployCustomTargetPrefix = "CLOUD_DEPLOY_customTarget_"

	// The Cloud Storage object suffix for the expected results file.
	resultObjectSuffix = "results.json"
)

// Cloud Deploy environment variable keys.
const (
	RequestTypeEnvKey  = "CLOUD_DEPLOY_REQUEST_TYPE"
	FeaturesEnvKey     = "CLOUD_DEPLOY_FEATURES"
	ProjectEnvKey      = "CLOUD_DEPLOY_PROJECT"
	LocationEnvKey     = "CLOUD_DEPLOY_LOCATION"
	PipelineEnvKey     = "CLOUD_DEPLOY_DELIVERY_PIPELINE"
	ReleaseEnvKey      = "CLOUD_DEPLOY_RELEASE"
	RolloutEnvKey      = "CLOUD_DEPLOY_ROLLOUT"
	TargetEnvKey       = "CLOUD_DEPLOY_TARGET"
	PhaseEnvKey        = "CLOUD_DEPLOY_PHASE"
	PercentageEnvKey   = "CLOUD_DEPLOY_PERCENTAGE_DEPLOY"
	StorageTypeEnvKey  = "CLOUD_DEPLOY_STORAGE_TYPE"
	InputGCSEnvKey     = "CLOUD_DEPLOY_INPUT_GCS_PATH"
	OutputGCSEnvKey    = "CLOUD_DEPLOY_OUTPUT_GCS_PATH"
	ManifestGCSEnvKey  = "CLOUD_DEPLOY_MANIFEST_GCS_PATH"
	WorkloadTypeEnvKey = "CLOUD_DEPLOY_WORKLOAD_TYPE"
)

// Cloud Deploy known result metadata keys.
const (
	CustomTargetSourceMetadataKey    = "custom-target-source"
	CustomTargetSourceSHAMetadataKey = "custom-target-source-sha"
)

// InCloudDeploy reports whether the binary was invoked by Cloud Deploy.
func InCloudDeploy() bool {
	_, ok := os.LookupEnv(RequestTypeEnvKey)
	return ok
}

// RenderRequest contains the Cloud Deploy values passed into the execution environment for a render operation.
type RenderRequest struct {
	// Cloud Deploy project.
	Project string
	// Cloud Deploy location.
	Location string
	// Cloud Deploy delivery pipeline.
	Pipeline string
	// Cloud Deploy release.
	Release string
	// Cloud Deploy target for this render.
	Target string
	// Cloud Deploy rollout phase.
	Phase string
	// Percentage deployment requested.
	Percentage int
	// Cloud Storage path to the tar.gz archive provided at the time of release creation in Cloud Deploy.
	// Example: gs://my-bucket/dir/subdir/source.tar.gz
	InputGCSPath string
	// Cloud Storage path where the outputs for the render are expected to be stored by Cloud Deploy.
	// Example: gs://my-bucket/dir/render-subdir/custom-output
	OutputGCSPath string
}

// RenderResult represents the json data expected in the results file by Cloud Deploy for a render operation.
type RenderResult struct {
	ResultStatus   RenderStatus      `json:"resultStatus"`
	ManifestFile   string            `json:"manifestFile"`
	FailureMessage string            `json:"failureMessage,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RenderStatus represents the valid result status for a render request.
type RenderStatus string

const (
	RenderSucceeded    RenderStatus = "SUCCEEDED"
	RenderFailed       RenderStatus = "FAILED"
	RenderNotSupported RenderStatus = "NOT_SUPPORTED"
)

// DownloadAndUnarchiveInput downloads the release archive and unarchives it to the provided path.
// Returns the Cloud Storage URI of the downloaded archive.
func (r *RenderRequest) DownloadAndUnarchiveInput(ctx context.Context, gcsClient *storage.Client, localArchivePath, localUnarchivePath string) (string, error) {
	uri := r.InputGCSPath
	if err := gcs.Download(ctx, gcsClient, uri, localArchivePath); err != nil {
		return "", err
	}
	if err := archiver.NewTarGz().Unarchive(localArchivePath, localUnarchivePath); err != nil {
		return "", fmt.Errorf("unable to unarchive tarball from %q: %v", uri, err)
	}
	return uri, nil
}

// UploadArtifact uploads data as a rendered artifact. The objectSuffix determines the
// Cloud Storage URI to use for the object, the URI is returned.
func (r *RenderRequest) UploadArtifact(ctx context.Context, gcsClient *storage.Client, objectSuffix string, data []byte) (string, error) {
	if len(objectSuffix) == 0 {
		return "", fmt.Errorf("objectSuffix must be provided to upload a render artifact")
	}
	uri := fmt.Sprintf("%s/%s", r.OutputGCSPath, objectSuffix)
	if err := gcs.Write(ctx, gcsClient, uri, data); err != nil {
		return "", err
	}
	return uri, nil
}

// UploadResult uploads the provided render result to the Cloud Storage path where Cloud Deploy expects it.
// Returns the Cloud Storage URI of the uploaded result.
func (r *RenderRequest) UploadResult(ctx context.Context, gcsClient *storage.Client, renderResult *RenderResult) (string, error) {
	return uploadResult(ctx, gcsClient, r.OutputGCSPath, renderResult)
}

// DeployRequest contains the Cloud Deploy values passed into the execution environment for a deploy operation.
type DeployRequest struct {
	// Cloud Deploy project.
	Project string
	// Cloud Deploy location.
	Location string
	// Cloud Deploy delivery pipeline.
	Pipeline string
	// Cloud Deploy release.
	Release string
	// Cloud Deploy rollout.
	Rollout string
	// Cloud Deploy target for this deploy.
	Target string
	// Cloud Deploy rollout phase.
	Phase string
	// Percentage deployment requested.
	Percentage int
	// Cloud Storage path where the inputs for the deploy are stored. This is the output GCS
	// path of the render.
	InputGCSPath string
	// Cloud Storage path for the manifest file produced at render time.
	// Example: gs://my-bucket/dir/render-subdir/manifest.yaml
	ManifestGCSPath string
	// Cloud Storage path where the outputs for the deploy are expected to be stored by Cloud Deploy.
	OutputGCSPath string
}

// DeployResult represents the json data expected in the results file by Cloud Deploy for a deploy operation.
type DeployResult struct {
	ResultStatus   DeployStatus      `json:"resultStatus"`
	ArtifactFiles  []string          `json:"artifactFiles,omitempty"`
	FailureMessage string            `json:"failureMessage,omitempty"`
	SkipMessage    string            `json:"skipMessage,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// DeployStatus represents the valid result status for a deploy request.
type DeployStatus string

const (
	DeploySucceeded    DeployStatus = "SUCCEEDED"
	DeployFailed       DeployStatus = "FAILED"
	DeploySkipped      DeployStatus = "SKIPPED"
	DeployNotSupported DeployStatus = "NOT_SUPPORTED"
)

// DownloadManifest downloads the rendered manifest to the provided local path. Returns the
// Cloud Storage URI of the downloaded manifest.
func (d *DeployRequest) DownloadManifest(ctx context.Context, gcsClient *storage.Client, localPath string) (string, error) {
	uri := d.ManifestGCSPath
	if err := gcs.Download(ctx, gcsClient, uri, localPath); err != nil {
		return "", err
	}
	return uri, nil
}

// UploadResult uploads the provided deploy result to the Cloud Storage path where Cloud Deploy expects it.
// Returns the Cloud Storage URI of the uploaded result.
func (d *DeployRequest) UploadResult(ctx context.Context, gcsClient *storage.Client, deployResult *DeployResult) (string, error) {
	return uploadResult(ctx, gcsClient, d.OutputGCSPath, deployResult)
}

func uploadResult(ctx context.Context, gcsClient *storage.Client, outputGCSPath string, result any) (string, error) {
	uri := fmt.Sprintf("%s/%s", outputGCSPath, resultObjectSuffix)
	res, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("error marshalling result: %v", err)
	}
	if err := gcs.Write(ctx, gcsClient, uri, res); err != nil {
		return "", err
	}
	return uri, nil
}

// DetermineRequest determines the Cloud Deploy request based on the environment variables in the
// execution environment and returns either a RenderRequest or DeployRequest. If the request
// includes a feature that is not in provided supported features list then a NOT_SUPPORTED result
// is uploaded for Cloud Deploy and an error is returned.
func DetermineRequest(ctx context.Context, gcsClient *storage.Client, supportedFeatures []string) (any, error) {
	percentage, err := strconv.Atoi(os.Getenv(PercentageEnvKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q", PercentageEnvKey)
	}
	features := strings.FieldsFunc(os.Getenv(FeaturesEnvKey), func(c rune) bool {
		return c == ','
	})
	var unsupported string
	for _, f := range features {
		if !isFeatureSupported(supportedFeatures, f) {
			unsupported = f
			break
		}
	}

	reqType := os.Getenv(RequestTypeEnvKey)
	switch reqType {
	case "RENDER":
		rr := &RenderRequest{
			Project:       os.Getenv(ProjectEnvKey),
			Location:      os.Getenv(LocationEnvKey),
			Pipeline:      os.Getenv(PipelineEnvKey),
			Release:       os.Getenv(ReleaseEnvKey),
			Target:        os.Getenv(TargetEnvKey),
			Phase:         os.Getenv(PhaseEnvKey),
			Percentage:    percentage,
			InputGCSPath:  os.Getenv(InputGCSEnvKey),
			OutputGCSPath: os.Getenv(OutputGCSEnvKey),
		}
		if unsupported != "" {
			msg := fmt.Sprintf("feature %q is not supported", unsupported)
			if _, err := rr.UploadResult(ctx, gcsClient, &RenderResult{
				ResultStatus:   RenderNotSupported,
				FailureMessage: msg,
			}); err != nil {
				return nil, fmt.Errorf("error uploading render feature not supported results: %v", err)
			}
			return nil, fmt.Errorf("%s", msg)
		}
		return rr, nil

	case "DEPLOY":
		dr := &DeployRequest{
			Project:         os.Getenv(ProjectEnvKey),
			Location:        os.Getenv(LocationEnvKey),
			Pipeline:        os.Getenv(PipelineEnvKey),
			Release:         os.Getenv(ReleaseEnvKey),
			Rollout:         os.Getenv(RolloutEnvKey),
			Target:          os.Getenv(TargetEnvKey),
			Phase:           os.Getenv(PhaseEnvKey),
			Percentage:      percentage,
			InputGCSPath:    os.Getenv(InputGCSEnvKey),
			ManifestGCSPath: os.Getenv(ManifestGCSEnvKey),
			OutputGCSPath:   os.Getenv(OutputGCSEnvKey),
		}
		if unsupported != "" {
			msg := fmt.Sprintf("feature %q is not supported", unsupported)
			if _, err := dr.UploadResult(ctx, gcsClient, &DeployResult{
				ResultStatus:   DeployNotSupported,
				FailureMessage: msg,
			}); err != nil {
				return nil, fmt.Errorf("error uploading deploy feature not supported results: %v", err)
			}
			return nil, fmt.Errorf("%s", msg)
		}
		return dr, nil

	default:
		return nil, fmt.Errorf("received unexpected Cloud Deploy request type: %v", reqType)
	}
}

// isFeatureSupported returns whether the provided feature is in the list of supported features provided.
func isFeatureSupported(supportedFeatures []string, feature string) bool {
	for _, sf := range supportedFeatures {
		if sf == feature {
			return true
		}
	}
	return false
}

// FetchDeployParameters returns a map of the custom target deploy parameters found in the
// environment, keyed the way they were declared in Cloud Deploy ("customTarget/<name>").
func FetchDeployParameters() map[string]string {
	params := map[string]string{}
	for _, environ := range os.Environ() {
		key, value, found := strings.Cut(environ, "=")
		if !found || !strings.HasPrefix(key, cloudDeployCustomTargetPrefix) {
			continue
		}
		params["customTarget/"+strings.TrimPrefix(key, cloudDeployCustomTargetPrefix)] = value
	}
	return params
}

// SourcePath joins a path from a deploy parameter onto the unarchived release directory,
// rejecting paths that escape it.
func SourcePath(srcPath, relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path %q must be relative to the release archive", relativePath)
	}
	p := filepath.Join(srcPath, relativePath)
	if p != filepath.Clean(srcPath) && !strings.HasPrefix(p, filepath.Clean(srcPath)+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside of the release archive", relativePath)
	}
	return p, nil
}
