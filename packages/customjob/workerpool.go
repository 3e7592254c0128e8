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

package customjob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/component"
	"google.golang.org/api/aiplatform/v1"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"
)

// int64Fields are worker pool spec fields that the Vertex AI REST types
// encode as JSON strings.
var int64Fields = sets.New("replicaCount")

// synthesizeWorkerPoolSpecs builds worker pools that run the component
// container. The first pool is the chief and has a single replica.
func (o *Options) synthesizeWorkerPoolSpecs(spec *component.Spec) ([]*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec, error) {
	c := spec.Implementation.Container
	if len(c.FileOutputs) != 0 {
		return nil, fmt.Errorf("component %q uses fileOutputs, which are not supported in a custom job", spec.Name)
	}
	r := &resolver{spec: spec}
	command, err := r.resolve(c.Command)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve container command: %v", err)
	}
	args, err := r.resolve(c.Args)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve container args: %v", err)
	}

	machineType := o.MachineType
	if machineType == "" {
		machineType = DefaultMachineType
	}
	chief := &aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec{
		MachineSpec: &aiplatform.GoogleCloudAiplatformV1MachineSpec{
			MachineType:      machineType,
			AcceleratorType:  o.AcceleratorType,
			AcceleratorCount: o.AcceleratorCount,
		},
		ReplicaCount: 1,
		ContainerSpec: &aiplatform.GoogleCloudAiplatformV1ContainerSpec{
			ImageUri: c.Image,
			Command:  command,
			Args:     args,
			Env:      envVars(c.Env),
		},
	}
	if o.BootDiskType != "" || o.BootDiskSizeGB != 0 {
		chief.DiskSpec = &aiplatform.GoogleCloudAiplatformV1DiskSpec{
			BootDiskType:   o.BootDiskType,
			BootDiskSizeGb: o.BootDiskSizeGB,
		}
	}

	pools := []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec{chief}
	if o.ReplicaCount > 1 {
		workers := *chief
		workers.ReplicaCount = o.ReplicaCount - 1
		pools = append(pools, &workers)
	}
	return pools, nil
}

// ValidateWorkerPoolSpecs checks that every worker pool spec contains exactly
// one of a container spec or a python package spec.
func ValidateWorkerPoolSpecs(pools []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec) error {
	for i, p := range pools {
		if p == nil || (p.ContainerSpec == nil) == (p.PythonPackageSpec == nil) {
			return fmt.Errorf("worker pool spec %d: %w", i, ErrInvalidWorkerPoolSpec)
		}
	}
	return nil
}

// ParseWorkerPoolSpecs parses a YAML or JSON list of worker pool specs. Keys
// may be written in snake_case, as in the Vertex AI documentation, or in
// camelCase. Unknown fields are rejected.
func ParseWorkerPoolSpecs(data []byte) ([]*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec, error) {
	j, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse worker pool specs: %v", err)
	}
	d := json.NewDecoder(bytes.NewReader(j))
	d.UseNumber()
	var doc any
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to parse worker pool specs: %v", err)
	}
	if _, ok := doc.([]any); !ok {
		return nil, fmt.Errorf("worker pool specs must be a list")
	}

	normalized, err := json.Marshal(normalizeKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("unable to normalize worker pool specs: %v", err)
	}
	d = json.NewDecoder(bytes.NewReader(normalized))
	d.DisallowUnknownFields()
	var pools []*aiplatform.GoogleCloudAiplatformV1WorkerPoolSpec
	if err := d.Decode(&pools); err != nil {
		return nil, fmt.Errorf("unable to parse worker pool specs: %v", err)
	}
	return pools, nil
}

// normalizeKeys converts snake_case keys to camelCase and quotes int64 fields.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := camelCase(k)
			if n, ok := val.(json.Number); ok && int64Fields.Has(key) {
				out[key] = n.String()
				continue
			}
			out[key] = normalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}

func camelCase(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}
