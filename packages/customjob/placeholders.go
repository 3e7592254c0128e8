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
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/component"
)

const executorInputPlaceholder = "{{$}}"

func inputParameter(name string) string {
	return fmt.Sprintf("{{$.inputs.parameters['%s']}}", name)
}

func inputArtifactPath(name string) string {
	return fmt.Sprintf("{{$.inputs.artifacts['%s'].path}}", name)
}

func inputArtifactURI(name string) string {
	return fmt.Sprintf("{{$.inputs.artifacts['%s'].uri}}", name)
}

func outputParameterFile(name string) string {
	return fmt.Sprintf("{{$.outputs.parameters['%s'].output_file}}", name)
}

func outputArtifactPath(name string) string {
	return fmt.Sprintf("{{$.outputs.artifacts['%s'].path}}", name)
}

func outputArtifactURI(name string) string {
	return fmt.Sprintf("{{$.outputs.artifacts['%s'].uri}}", name)
}

// resolver rewrites component placeholders into the runtime placeholders the
// KFP v2 backend substitutes in the CustomJob payload.
type resolver struct {
	spec *component.Spec
}

// resolve resolves args into a command line. An if placeholder expands to any
// number of arguments, every other argument resolves to exactly one.
func (r *resolver) resolve(args []component.Arg) ([]string, error) {
	out := []string{}
	for _, a := range args {
		if a.Kind == component.KindIf {
			branch, err := r.branch(a.If)
			if err != nil {
				return nil, err
			}
			resolved, err := r.resolve(branch)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved...)
			continue
		}
		s, err := r.resolveArg(a)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *resolver) resolveArg(a component.Arg) (string, error) {
	switch a.Kind {
	case component.KindLiteral:
		return a.Value, nil
	case component.KindInputValue:
		if err := r.checkInput(a); err != nil {
			return "", err
		}
		return inputParameter(a.Value), nil
	case component.KindInputPath:
		if err := r.checkInput(a); err != nil {
			return "", err
		}
		return inputArtifactPath(a.Value), nil
	case component.KindInputURI:
		if err := r.checkInput(a); err != nil {
			return "", err
		}
		return inputArtifactURI(a.Value), nil
	case component.KindOutputPath:
		out := r.spec.Output(a.Value)
		if out == nil {
			return "", fmt.Errorf("%s placeholder refers to unknown output %q", a.Kind, a.Value)
		}
		if component.IsParameterType(out.Type) {
			return outputParameterFile(a.Value), nil
		}
		return outputArtifactPath(a.Value), nil
	case component.KindOutputURI:
		if r.spec.Output(a.Value) == nil {
			return "", fmt.Errorf("%s placeholder refers to unknown output %q", a.Kind, a.Value)
		}
		return outputArtifactURI(a.Value), nil
	case component.KindExecutorInput:
		return executorInputPlaceholder, nil
	case component.KindConcat:
		parts, err := r.resolve(a.Parts)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, ""), nil
	default:
		return "", fmt.Errorf("unsupported placeholder %q", a.Kind)
	}
}

func (r *resolver) checkInput(a component.Arg) error {
	if r.spec.Input(a.Value) == nil {
		return fmt.Errorf("%s placeholder refers to unknown input %q", a.Kind, a.Value)
	}
	return nil
}

// branch picks the branch of an if placeholder. Inputs are statically present
// when they are required or have a default.
func (r *resolver) branch(ip *component.IfPlaceholder) ([]component.Arg, error) {
	if ip == nil {
		return nil, fmt.Errorf("empty if placeholder")
	}
	cond := ip.Cond.Constant
	if name := ip.Cond.IsPresent; name != "" {
		in := r.spec.Input(name)
		if in == nil {
			return nil, fmt.Errorf("isPresent condition refers to unknown input %q", name)
		}
		cond = !in.Optional || in.Default != nil
	}
	if cond {
		return ip.Then, nil
	}
	return ip.Else, nil
}
