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

// Package applysetters applies kpt-style setter comments to YAML documents with
// values taken from Cloud Deploy deploy parameters.
//
// A scalar carrying a line comment of the form
//
//	machine_type: n1-standard-4 # from-param: ${customTarget/machineType}
//
// has its value replaced by the template after "from-param:" once every
// ${name} reference in the template has a value.
package applysetters

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"sigs.k8s.io/kustomize/kyaml/yaml"
)

const setterCommentPrefix = "from-param:"

var paramRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ApplyParams returns data with the setter comments resolved from params. The
// input is returned unchanged when no setter matched.
func ApplyParams(data []byte, params map[string]string) ([]byte, error) {
	if len(params) == 0 || !strings.Contains(string(data), setterCommentPrefix) {
		return data, nil
	}
	node, err := yaml.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("unable to parse yaml: %v", err)
	}
	if !apply(node.YNode(), params) {
		return data, nil
	}
	out, err := node.String()
	if err != nil {
		return nil, fmt.Errorf("unable to serialize yaml: %v", err)
	}
	return []byte(out), nil
}

// ApplyParamsToFile resolves the setter comments of the file at path in place.
func ApplyParamsToFile(path string, params map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := ApplyParams(data, params)
	if err != nil {
		return fmt.Errorf("unable to apply deploy parameters to %s: %v", path, err)
	}
	if string(out) == string(data) {
		return nil
	}
	return os.WriteFile(path, out, 0o644)
}

// apply walks the node tree and reports whether any value was set.
func apply(n *yaml.Node, params map[string]string) bool {
	if n == nil {
		return false
	}
	changed := false
	if n.Kind == yaml.ScalarNode {
		if v, ok := resolve(n.LineComment, params); ok && v != n.Value {
			n.Value = v
			changed = true
		}
	}
	for _, c := range n.Content {
		if apply(c, params) {
			changed = true
		}
	}
	return changed
}

// resolve expands the setter template of a comment. It fails if the comment is
// not a setter or references a parameter that is not set.
func resolve(comment string, params map[string]string) (string, bool) {
	c := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(comment), "#"))
	if !strings.HasPrefix(c, setterCommentPrefix) {
		return "", false
	}
	tmpl := strings.TrimSpace(strings.TrimPrefix(c, setterCommentPrefix))
	refs := paramRef.FindAllStringSubmatch(tmpl, -1)
	if len(refs) == 0 {
		return "", false
	}
	for _, ref := range refs {
		if _, ok := params[ref[1]]; !ok {
			return "", false
		}
	}
	return paramRef.ReplaceAllStringFunc(tmpl, func(ref string) string {
		return params[paramRef.FindStringSubmatch(ref)[1]]
	}), true
}
