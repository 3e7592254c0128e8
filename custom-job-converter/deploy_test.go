package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/clouddeploy"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/google/go-cmp/cmp"
)

func newDeployer(t *testing.T, destination, manifest string) (*deployer, *fakestorage.Server) {
	t.Helper()
	server := fakestorage.NewServer([]fakestorage.Object{
		{
			Content:     []byte(manifest),
			ObjectAttrs: fakestorage.ObjectAttrs{BucketName: testBucket, Name: "render/manifest.yaml"},
		},
	})
	t.Cleanup(server.Stop)
	return &deployer{
		gcsClient: server.Client(),
		params:    &params{destination: destination},
		req: &clouddeploy.DeployRequest{
			ManifestGCSPath: "gs://" + testBucket + "/render/manifest.yaml",
			OutputGCSPath:   "gs://" + testBucket + "/deploy",
		},
		localManifest: filepath.Join(t.TempDir(), "manifest.yaml"),
	}, server
}

func deployResult(t *testing.T, server *fakestorage.Server) *clouddeploy.DeployResult {
	t.Helper()
	o, err := server.GetObject(testBucket, "deploy/results.json")
	if err != nil {
		t.Fatalf("Failed to get deploy results: %v", err)
	}
	res := &clouddeploy.DeployResult{}
	if err := json.Unmarshal(o.Content, res); err != nil {
		t.Fatalf("Failed to unmarshal deploy results: %v", err)
	}
	return res
}

func TestDeploy(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		wantObject  string
	}{
		{
			name:        "directory destination",
			destination: "gs://" + testBucket + "/published/",
			wantObject:  "published/train-model.yaml",
		},
		{
			name:        "object destination",
			destination: "gs://" + testBucket + "/published/trainer.yaml",
			wantObject:  "published/trainer.yaml",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, server := newDeployer(t, test.destination, trainComponent)
			if err := d.process(context.Background()); err != nil {
				t.Fatalf("process() returned an error: %v", err)
			}

			o, err := server.GetObject(testBucket, test.wantObject)
			if err != nil {
				t.Fatalf("Failed to get published component %s: %v", test.wantObject, err)
			}
			if string(o.Content) != trainComponent {
				t.Errorf("Published component = %q, want %q", o.Content, trainComponent)
			}

			want := &clouddeploy.DeployResult{
				ResultStatus:  clouddeploy.DeploySucceeded,
				ArtifactFiles: []string{"gs://" + testBucket + "/" + test.wantObject},
				Metadata: map[string]string{
					clouddeploy.CustomTargetSourceMetadataKey:    converterSampleName,
					clouddeploy.CustomTargetSourceSHAMetadataKey: clouddeploy.GitCommit,
				},
			}
			if diff := cmp.Diff(want, deployResult(t, server)); diff != "" {
				t.Errorf("deploy result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeployFailure(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		manifest    string
	}{
		{
			name:     "missing destination",
			manifest: trainComponent,
		},
		{
			name:        "local destination",
			destination: "/tmp/published/",
			manifest:    trainComponent,
		},
		{
			name:        "invalid manifest",
			destination: "gs://" + testBucket + "/published/",
			manifest:    "name: no implementation\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, server := newDeployer(t, test.destination, test.manifest)
			if err := d.process(context.Background()); err == nil {
				t.Fatalf("process() got err = nil, want error")
			}
			res := deployResult(t, server)
			if res.ResultStatus != clouddeploy.DeployFailed {
				t.Errorf("deploy result status = %q, want %q", res.ResultStatus, clouddeploy.DeployFailed)
			}
			if res.FailureMessage == "" {
				t.Errorf("deploy result has no failure message")
			}
		})
	}
}

func TestDepAddCommonMetadata(t *testing.T) {
	newDeployer := &deployer{}
	deployResult := &clouddeploy.DeployResult{}
	newDeployer.addCommonMetadata(deployResult)
	if _, exists := deployResult.Metadata[clouddeploy.CustomTargetSourceMetadataKey]; !exists {
		t.Errorf("Error: map missing %s key", clouddeploy.CustomTargetSourceMetadataKey)
	}
	if _, exists := deployResult.Metadata[clouddeploy.CustomTargetSourceSHAMetadataKey]; !exists {
		t.Errorf("Error: map missing %s key", clouddeploy.CustomTargetSourceSHAMetadataKey)
	}
}

func TestComponentFileName(t *testing.T) {
	tests := map[string]string{
		"Train Model":        "train-model.yaml",
		"sum_numbers":        "sum_numbers.yaml",
		"  Custom Job (v2) ": "custom-job--v2.yaml",
		"":                   "component.yaml",
		"???":                "component.yaml",
	}
	for in, want := range tests {
		if got := componentFileName(in); got != want {
			t.Errorf("componentFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
