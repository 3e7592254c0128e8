package gcs

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/googleapi"
)

const (
	gsPrefix = "gs://"
	bucket   = "example-bucket"
)

func TestParseGCSURI(t *testing.T) {
	testCases := []struct {
		desc       string
		uri        string
		wantGcsObj gcsObjectURI
	}{
		{
			desc: "success",
			uri:  "gs://fake_bucket//fake_object",
			wantGcsObj: gcsObjectURI{
				bucket: "fake_bucket",
				name:   "fake_object",
			},
		},
		{
			desc: "nested object",
			uri:  "gs://fake_bucket/components/train.yaml",
			wantGcsObj: gcsObjectURI{
				bucket: "fake_bucket",
				name:   "components/train.yaml",
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			gotGcsObj, err := parseGCSURI(tc.uri)
			if err != nil {
				t.Fatalf("Failed to parse URI err is %v", err)
			}
			if diff := cmp.Diff(tc.wantGcsObj, gotGcsObj, cmp.AllowUnexported(gcsObjectURI{})); diff != "" {
				t.Errorf("parseGCSURI(%v) returned diff (-want +got):\n%s", tc.uri, diff)
			}
		})
	}
}

func TestParseGCSURIInvalid(t *testing.T) {
	testCases := []struct {
		desc string
		uri  string
	}{
		{
			desc: "wrong schema",
			uri:  "http://fake_bucket//fake_object",
		},
		{
			desc: "empty uri",
			uri:  "",
		},
		{
			desc: "empty Bucket",
			uri:  "gs:////fake_object",
		},
		{
			desc: "empty object",
			uri:  "gs://fake_bucket//",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, errMsg := parseGCSURI(tc.uri)
			if errMsg == nil {
				t.Fatalf("parseGCSURI(%v) succeeded for invalid URI, want error", tc.uri)
			}
		})
	}
}

func TestIsURI(t *testing.T) {
	tests := map[string]bool{
		"gs://bucket/component.yaml": true,
		"component.yaml":             false,
		"/workspace/component.yaml":  false,
		"http://bucket/object":       false,
	}
	for in, want := range tests {
		if got := IsURI(in); got != want {
			t.Errorf("IsURI(%q) = %t, want %t", in, got, want)
		}
	}
}

func TestReadAndDownload(t *testing.T) {
	ctx := context.Background()
	fakeContent := "name: test\n"
	gcsClient := CreateGCSClient(t, []byte(fakeContent), bucket, "component.yaml")
	uri := gsPrefix + bucket + "/component.yaml"

	got, err := Read(ctx, gcsClient, uri)
	if err != nil {
		t.Fatalf("Read(%q) returned an error: %v", uri, err)
	}
	if string(got) != fakeContent {
		t.Errorf("Read(%q) = %q, want %q", uri, got, fakeContent)
	}

	localPath := filepath.Join(t.TempDir(), "workspace", "component.yaml")
	if err := Download(ctx, gcsClient, uri, localPath); err != nil {
		t.Fatalf("Download(%q) returned an error: %v", uri, err)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("Couldn't read file content, err: %v", err)
	}
	if string(data) != fakeContent {
		t.Errorf("Expected file to contain %q, got: %q", fakeContent, data)
	}

	invalid := []string{
		"gs://non-existent-bucket/nonexistent",
		"gs://example-bucket/nonexistent",
		"",
	}
	for _, uri := range invalid {
		if _, err := Read(ctx, gcsClient, uri); err == nil {
			t.Errorf("Read(%q) succeeded for non-existent URI, want error", uri)
		}
	}
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	fakeGCS := fakestorage.NewServer([]fakestorage.Object{})
	t.Cleanup(fakeGCS.Stop)
	fakeGCS.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: bucket})

	uri := gsPrefix + bucket + "/out/component.yaml"
	if err := Write(ctx, fakeGCS.Client(), uri, []byte("hello world")); err != nil {
		t.Fatalf("Write(%q) returned an error: %v", uri, err)
	}
	o, err := fakeGCS.GetObject(bucket, "out/component.yaml")
	if err != nil {
		t.Fatalf("Failed to get GCS object, err: %v", err)
	}
	if string(o.Content) != "hello world" {
		t.Errorf("Write() wrote %q, want %q", o.Content, "hello world")
	}

	invalidtc := []struct {
		desc   string
		gcsURI string
		data   []byte
	}{
		{
			desc:   "non-existent bucket",
			gcsURI: "gs://non-existent-bucket/nonexistent",
			data:   []byte("hello world"),
		},
		{
			desc:   "empty URI",
			gcsURI: "",
			data:   []byte("hello world"),
		},
		{
			desc:   "empty content",
			gcsURI: uri,
		},
	}
	for _, test := range invalidtc {
		t.Run(test.desc, func(t *testing.T) {
			if err := Write(ctx, fakeGCS.Client(), test.gcsURI, test.data); err == nil {
				t.Errorf("Write(%q) succeeded, want error", test.gcsURI)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: true},
		{err: &googleapi.Error{Code: http.StatusServiceUnavailable}, want: true},
		{err: &googleapi.Error{Code: http.StatusNotFound}, want: false},
		{err: errors.New("boom"), want: false},
	}
	for _, test := range tests {
		if got := isTransient(test.err); got != test.want {
			t.Errorf("isTransient(%v) = %t, want %t", test.err, got, test.want)
		}
	}
}

// CreateGCSClient creates a fake server and populates it with the given bucket, object and content.
func CreateGCSClient(t *testing.T, content []byte, bucketName, objName string) *storage.Client {
	t.Helper()

	server := fakestorage.NewServer([]fakestorage.Object{
		{
			Content: content,
			ObjectAttrs: fakestorage.ObjectAttrs{
				BucketName: bucketName,
				Name:       objName,
			},
		},
	})
	t.Cleanup(server.Stop)
	return server.Client()
}
