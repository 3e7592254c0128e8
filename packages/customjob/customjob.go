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

// Package customjob converts KFP container components into components that
// run their container as a Vertex AI CustomJob through the GCP launcher.
package customjob

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/component"
	"google.golang.org/api/aiplatform/v1"
	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// DefaultLauncherImage is the image that runs the GCP launcher.
	DefaultLauncherImage = "gcr.io/ml-pipeline/google-cloud-pipeline-components:latest"
	// DefaultMachineType is used for synthesized worker pools when no machine type is set.
	DefaultMachineType = "n1-standard-4"

	launcherModule = "google_cloud_pipeline_components.experimental.remote.gcp_launcher.launcher"
	jobType        = "CustomJob"
)

// Inputs and outputs added to every converted component.
const (
	BaseOutputDirectoryInput   = "base_output_directory"
	TensorboardInput           = "tensorboard"
	EncryptionSpecKeyNameInput = "encryption_spec_key_name"
	NetworkInput               = "network"
	ServiceAccountInput        = "service_account"
	ProjectInput               = "project"
	LocationInput              = "location"
	GCPResourcesOutput         = "gcp_resources"
)

var reservedInputs = sets.New(
	BaseOutputDirectoryInput,
	TensorboardInput,
	EncryptionSpecKeyNameInput,
	NetworkInput,
	ServiceAccountInput,
	ProjectInput,
	LocationInput,
)

// ErrInvalidWorkerPoolSpec is returned when a worker pool spec does not contain
// exactly one of a container spec or a python package spec.
var ErrInvalidWorkerPoolSpec = errors.New("worker pool spec must contain exactly one of container_spec or python_package_spec")

// Options configure the CustomJob a converted component launches. The zero
// value converts the component with the defaults Vertex AI applies to a
// single replica job.
type Options struct {
	// WorkerPoolSpecs replaces the worker pools synthesized from the component
	// container. When set, the machine, replica and disk options are ignored.
	WorkerPoolSpecs []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec
	// DisplayName of the CustomJob. Defaults to the component name.
	DisplayName string
	// ReplicaCount is the total number of replicas. The first worker pool
	// always has one replica, the remaining replicas go in a second pool.
	ReplicaCount     int64
	MachineType      string
	AcceleratorType  string
	AcceleratorCount int64
	BootDiskType     string
	BootDiskSizeGB   int64
	// Timeout is the maximum job running time. Zero leaves it to Vertex AI.
	Timeout                   time.Duration
	RestartJobOnWorkerRestart bool
	// The following options become the defaults of the matching pass-through
	// inputs on the converted component.
	ServiceAccount        string
	Network               string
	EncryptionSpecKeyName string
	Tensorboard           string
	BaseOutputDirectory   string
	Labels                map[string]string
	// LauncherImage overrides DefaultLauncherImage.
	LauncherImage string
}

// Validate checks the options for values Vertex AI would reject.
func (o *Options) Validate() error {
	if o.ReplicaCount < 0 {
		return fmt.Errorf("replica count must not be negative, got %d", o.ReplicaCount)
	}
	if o.AcceleratorCount < 0 {
		return fmt.Errorf("accelerator count must not be negative, got %d", o.AcceleratorCount)
	}
	if o.AcceleratorCount > 0 && o.AcceleratorType == "" {
		return fmt.Errorf("accelerator count %d requires an accelerator type", o.AcceleratorCount)
	}
	if o.BootDiskSizeGB < 0 {
		return fmt.Errorf("boot disk size must not be negative, got %d", o.BootDiskSizeGB)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", o.Timeout)
	}
	for k := range o.Labels {
		if k == "" {
			return fmt.Errorf("label keys must not be empty")
		}
	}
	return nil
}

// Convert returns a new component spec whose implementation launches a Vertex
// AI CustomJob running the container of spec. The input spec is not modified.
func Convert(spec *component.Spec, opts Options) (*component.Spec, error) {
	if spec == nil || spec.Implementation.Container == nil {
		return nil, fmt.Errorf("component must have a container implementation")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %v", err)
	}
	for _, in := range spec.Inputs {
		if reservedInputs.Has(in.Name) {
			return nil, fmt.Errorf("component %q already has input %q, which is reserved for the CustomJob launcher", spec.Name, in.Name)
		}
	}
	if spec.Output(GCPResourcesOutput) != nil {
		return nil, fmt.Errorf("component %q already has output %q, which is reserved for the CustomJob launcher", spec.Name, GCPResourcesOutput)
	}

	displayName := opts.DisplayName
	if displayName == "" {
		displayName = spec.Name
	}
	if displayName == "" {
		return nil, fmt.Errorf("a display name is required when the component has no name")
	}

	pools := opts.WorkerPoolSpecs
	if len(pools) == 0 {
		var err error
		pools, err = opts.synthesizeWorkerPoolSpecs(spec)
		if err != nil {
			return nil, err
		}
	}
	if err := ValidateWorkerPoolSpecs(pools); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(opts.customJob(displayName, pools))
	if err != nil {
		return nil, fmt.Errorf("error marshalling custom job payload: %v", err)
	}

	inputs := append([]component.InputSpec{}, spec.Inputs...)
	inputs = append(inputs,
		optionalStringInput(BaseOutputDirectoryInput, opts.BaseOutputDirectory),
		optionalStringInput(TensorboardInput, opts.Tensorboard),
		optionalStringInput(EncryptionSpecKeyNameInput, opts.EncryptionSpecKeyName),
		optionalStringInput(NetworkInput, opts.Network),
		optionalStringInput(ServiceAccountInput, opts.ServiceAccount),
		component.InputSpec{Name: ProjectInput, Type: component.NamedType("String")},
		component.InputSpec{Name: LocationInput, Type: component.NamedType("String")},
	)
	outputs := append([]component.OutputSpec{}, spec.Outputs...)
	outputs = append(outputs, component.OutputSpec{Name: GCPResourcesOutput, Type: component.NamedType("String")})

	image := opts.LauncherImage
	if image == "" {
		image = DefaultLauncherImage
	}
	args := component.Literals("--type", jobType, "--payload", string(payload))
	args = append(args,
		component.Literal("--project"), component.InputValue(ProjectInput),
		component.Literal("--location"), component.InputValue(LocationInput),
		component.Literal("--gcp_resources"), component.OutputPath(GCPResourcesOutput),
	)

	return &component.Spec{
		Name:        spec.Name,
		Description: spec.Description,
		Metadata:    spec.Metadata,
		Inputs:      inputs,
		Outputs:     outputs,
		Implementation: component.Implementation{
			Container: &component.ContainerSpec{
				Image:   image,
				Command: component.Literals("python3", "-u", "-m", launcherModule),
				Args:    args,
			},
		},
	}, nil
}

// customJob builds the CustomJob request. Fields backed by pipeline inputs are
// left as runtime placeholders for the launcher to receive resolved.
func (o *Options) customJob(displayName string, pools []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec) *aiplatform.GoogleCloudAiplatformV1CustomJob {
	return &aiplatform.GoogleCloudAiplatformV1CustomJob{
		DisplayName: displayName,
		JobSpec: &aiplatform.GoogleCloudAiplatformV1CustomJobSpec{
			WorkerPoolSpecs: pools,
			Scheduling:      o.scheduling(),
			ServiceAccount:  inputParameter(ServiceAccountInput),
			Network:         inputParameter(NetworkInput),
			Tensorboard:     inputParameter(TensorboardInput),
			BaseOutputDirectory: &aiplatform.GoogleCloudAiplatformV1GcsDestination{
				OutputUriPrefix: inputParameter(BaseOutputDirectoryInput),
			},
		},
		Labels: o.Labels,
		EncryptionSpec: &aiplatform.GoogleCloudAiplatformV1EncryptionSpec{
			KmsKeyName: inputParameter(EncryptionSpecKeyNameInput),
		},
	}
}

func (o *Options) scheduling() *aiplatform.GoogleCloudAiplatformV1Scheduling {
	if o.Timeout == 0 && !o.RestartJobOnWorkerRestart {
		return nil
	}
	s := &aiplatform.GoogleCloudAiplatformV1Scheduling{
		RestartJobOnWorkerRestart: o.RestartJobOnWorkerRestart,
	}
	if o.Timeout > 0 {
		s.Timeout = durationString(o.Timeout)
	}
	return s
}

// durationString formats d the way protobuf Durations are encoded in JSON.
func durationString(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

func optionalStringInput(name, defaultValue string) component.InputSpec {
	in := component.InputSpec{Name: name, Type: component.NamedType("String"), Optional: true}
	if defaultValue != "" {
		in.Default = defaultValue
	}
	return in
}

// envVars returns the environment as CustomJob env vars sorted by name.
func envVars(env map[string]string) []*aiplatform.GoogleCloudAiplatformV1EnvVar {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]*aiplatform.GoogleCloudAiplatformV1EnvVar, 0, len(names))
	for _, name := range names {
		vars = append(vars, &aiplatform.GoogleCloudAiplatformV1EnvVar{Name: name, Value: env[name]})
	}
	return vars
}
