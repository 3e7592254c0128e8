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

// Package component provides a model of Kubeflow Pipelines (KFP) v1 component
// specifications that can be loaded from and written back to YAML.
package component

import (
	"fmt"
	"os"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/yaml"
)

// Spec is a KFP component specification.
type Spec struct {
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Metadata       *Metadata      `json:"metadata,omitempty"`
	Inputs         []InputSpec    `json:"inputs,omitempty"`
	Outputs        []OutputSpec   `json:"outputs,omitempty"`
	Implementation Implementation `json:"implementation"`
}

// Metadata holds the optional annotations and labels of a component.
type Metadata struct {
	Annotations map[string]string `json:"annotations,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// InputSpec describes a single component input.
type InputSpec struct {
	Name        string `json:"name"`
	Type        *Type  `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	// Default is a primitive (string, number or boolean) value.
	Default  any  `json:"default,omitempty"`
	Optional bool `json:"optional,omitempty"`
}

// OutputSpec describes a single component output.
type OutputSpec struct {
	Name        string `json:"name"`
	Type        *Type  `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Implementation is the implementation of a component. Only container
// implementations can be converted, graph implementations are kept so that
// Load can report them.
type Implementation struct {
	Container *ContainerSpec `json:"container,omitempty"`
	Graph     map[string]any `json:"graph,omitempty"`
}

// ContainerSpec is a container based implementation of a component.
type ContainerSpec struct {
	Image       string            `json:"image"`
	Command     []Arg             `json:"command,omitempty"`
	Args        []Arg             `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	FileOutputs map[string]string `json:"fileOutputs,omitempty"`
}

// Load parses a component specification from YAML or JSON data.
func Load(data []byte) (*Spec, error) {
	spec := &Spec{}
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("unable to parse component spec: %v", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// LoadFile reads and parses the component specification at path.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading component file: %v", err)
	}
	return Load(data)
}

// YAML returns the YAML representation of the component specification.
func (s *Spec) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// Input returns the input with the given name, or nil if none exists.
func (s *Spec) Input(name string) *InputSpec {
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			return &s.Inputs[i]
		}
	}
	return nil
}

// Output returns the output with the given name, or nil if none exists.
func (s *Spec) Output(name string) *OutputSpec {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i]
		}
	}
	return nil
}

func (s *Spec) validate() error {
	if s.Implementation.Graph != nil {
		return fmt.Errorf("component %q has a graph implementation, only container implementations are supported", s.Name)
	}
	if s.Implementation.Container == nil {
		return fmt.Errorf("component %q is missing a container implementation", s.Name)
	}
	if s.Implementation.Container.Image == "" {
		return fmt.Errorf("component %q container implementation is missing an image", s.Name)
	}
	inputs := sets.New[string]()
	for _, in := range s.Inputs {
		if in.Name == "" {
			return fmt.Errorf("component %q has an input without a name", s.Name)
		}
		if inputs.Has(in.Name) {
			return fmt.Errorf("component %q has duplicate input %q", s.Name, in.Name)
		}
		inputs.Insert(in.Name)
	}
	outputs := sets.New[string]()
	for _, out := range s.Outputs {
		if out.Name == "" {
			return fmt.Errorf("component %q has an output without a name", s.Name)
		}
		if outputs.Has(out.Name) {
			return fmt.Errorf("component %q has duplicate output %q", s.Name, out.Name)
		}
		outputs.Insert(out.Name)
	}
	return nil
}

// parameterTypes are the type names KFP passes by value rather than as artifacts.
var parameterTypes = sets.New(
	"string", "str", "text",
	"integer", "int",
	"float", "double",
	"boolean", "bool",
	"dict", "jsonobject",
	"list", "jsonarray",
)

// IsParameterType reports whether values of type t are parameters. Untyped and
// structured types are treated as artifacts.
func IsParameterType(t *Type) bool {
	if t == nil || t.Struct != nil {
		return false
	}
	return parameterTypes.Has(strings.ToLower(t.Name))
}
