package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/clouddeploy"
	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/customjob"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/mholt/archiver/v3"
)

// newRenderer returns a renderer for a release archive containing the provided files.
func newRenderer(t *testing.T, p *params, files map[string]string) (*renderer, *fakestorage.Server) {
	t.Helper()
	src := t.TempDir()
	var sources []string
	for name, content := range files {
		writeFile(t, filepath.Join(src, name), content)
		sources = append(sources, filepath.Join(src, name))
	}
	archivePath := filepath.Join(t.TempDir(), "source.tgz")
	if err := archiver.NewTarGz().Archive(sources, archivePath); err != nil {
		t.Fatalf("Failed to create release archive: %v", err)
	}
	archive, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("Failed to read release archive: %v", err)
	}

	server := fakestorage.NewServer([]fakestorage.Object{
		{
			Content:     archive,
			ObjectAttrs: fakestorage.ObjectAttrs{BucketName: testBucket, Name: "release/source.tgz"},
		},
	})
	t.Cleanup(server.Stop)

	work := t.TempDir()
	return &renderer{
		gcsClient: server.Client(),
		params:    p,
		req: &clouddeploy.RenderRequest{
			InputGCSPath:  "gs://" + testBucket + "/release/source.tgz",
			OutputGCSPath: "gs://" + testBucket + "/render",
		},
		srcArchivePath: filepath.Join(work, "archive.tgz"),
		srcPath:        filepath.Join(work, "source"),
	}, server
}

func renderResult(t *testing.T, server *fakestorage.Server) *clouddeploy.RenderResult {
	t.Helper()
	o, err := server.GetObject(testBucket, "render/results.json")
	if err != nil {
		t.Fatalf("Failed to get render results: %v", err)
	}
	res := &clouddeploy.RenderResult{}
	if err := json.Unmarshal(o.Content, res); err != nil {
		t.Fatalf("Failed to unmarshal render results: %v", err)
	}
	return res
}

func TestRender(t *testing.T) {
	p := &params{componentPath: defaultComponentPath, workerPoolSpecsPath: "pools.yaml"}
	r, server := newRenderer(t, p, map[string]string{
		"component.yaml": trainComponent,
		"pools.yaml":     workerPoolSpecs,
	})

	if err := r.process(context.Background()); err != nil {
		t.Fatalf("process() returned an error: %v", err)
	}

	res := renderResult(t, server)
	if res.ResultStatus != clouddeploy.RenderSucceeded {
		t.Errorf("render result status = %q, want %q (%s)", res.ResultStatus, clouddeploy.RenderSucceeded, res.FailureMessage)
	}
	if want := "gs://" + testBucket + "/render/manifest.yaml"; res.ManifestFile != want {
		t.Errorf("render result manifest = %q, want %q", res.ManifestFile, want)
	}
	if got := res.Metadata[clouddeploy.CustomTargetSourceMetadataKey]; got != converterSampleName {
		t.Errorf("render result metadata source = %q, want %q", got, converterSampleName)
	}
	if _, ok := res.Metadata[clouddeploy.CustomTargetSourceSHAMetadataKey]; !ok {
		t.Errorf("render result metadata is missing %q", clouddeploy.CustomTargetSourceSHAMetadataKey)
	}

	o, err := server.GetObject(testBucket, "render/manifest.yaml")
	if err != nil {
		t.Fatalf("Failed to get rendered manifest: %v", err)
	}
	job := payload(t, loadConverted(t, o.Content))
	if mt := job.JobSpec.WorkerPoolSpecs[0].MachineSpec.MachineType; mt != "n1-highmem-8" {
		t.Errorf("rendered machine type = %q, want %q", mt, "n1-highmem-8")
	}
}

func TestRenderAppliesDeployParams(t *testing.T) {
	t.Setenv("CLOUD_DEPLOY_customTarget_trainerImage", "us-docker.pkg.dev/my-project/trainer:v2")
	component := strings.Replace(trainComponent,
		"image: us-docker.pkg.dev/my-project/trainer:latest",
		"image: us-docker.pkg.dev/my-project/trainer:latest # from-param: ${customTarget/trainerImage}", 1)
	r, server := newRenderer(t, &params{componentPath: defaultComponentPath}, map[string]string{"component.yaml": component})

	if err := r.process(context.Background()); err != nil {
		t.Fatalf("process() returned an error: %v", err)
	}
	o, err := server.GetObject(testBucket, "render/manifest.yaml")
	if err != nil {
		t.Fatalf("Failed to get rendered manifest: %v", err)
	}
	job := payload(t, loadConverted(t, o.Content))
	if img := job.JobSpec.WorkerPoolSpecs[0].ContainerSpec.ImageUri; img != "us-docker.pkg.dev/my-project/trainer:v2" {
		t.Errorf("rendered image = %q, want %q", img, "us-docker.pkg.dev/my-project/trainer:v2")
	}
}

func TestRenderFailure(t *testing.T) {
	tests := []struct {
		name   string
		params *params
	}{
		{
			name:   "missing component",
			params: &params{componentPath: "missing.yaml"},
		},
		{
			name:   "component outside of the release",
			params: &params{componentPath: "../component.yaml"},
		},
		{
			name:   "invalid options",
			params: &params{componentPath: defaultComponentPath, options: customjob.Options{ReplicaCount: -1}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, server := newRenderer(t, test.params, map[string]string{"component.yaml": trainComponent})
			if err := r.process(context.Background()); err == nil {
				t.Fatalf("process() got err = nil, want error")
			}
			res := renderResult(t, server)
			if res.ResultStatus != clouddeploy.RenderFailed {
				t.Errorf("render result status = %q, want %q", res.ResultStatus, clouddeploy.RenderFailed)
			}
			if res.FailureMessage == "" {
				t.Errorf("render result has no failure message")
			}
			if got := res.Metadata[clouddeploy.CustomTargetSourceMetadataKey]; got != converterSampleName {
				t.Errorf("render result metadata source = %q, want %q", got, converterSampleName)
			}
		})
	}
}
