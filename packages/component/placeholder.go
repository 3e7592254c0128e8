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

package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Type is the type of a component input or output. It is either a plain type
// name such as "String" or a structured type such as {GCSPath: {data_type: CSV}}.
type Type struct {
	Name   string
	Struct map[string]any
}

// NamedType returns a plain Type with the given name.
func NamedType(name string) *Type {
	return &Type{Name: name}
}

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) {
	if t.Struct != nil {
		return json.Marshal(t.Struct)
	}
	return json.Marshal(t.Name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*t = Type{Name: name}
		return nil
	}
	var s map[string]any
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("type must be a name or a map, got %s", data)
	}
	*t = Type{Struct: s}
	return nil
}

// PlaceholderKind identifies the kind of a command line argument.
type PlaceholderKind string

const (
	KindLiteral       PlaceholderKind = ""
	KindInputValue    PlaceholderKind = "inputValue"
	KindInputPath     PlaceholderKind = "inputPath"
	KindInputURI      PlaceholderKind = "inputUri"
	KindOutputPath    PlaceholderKind = "outputPath"
	KindOutputURI     PlaceholderKind = "outputUri"
	KindExecutorInput PlaceholderKind = "executorInput"
	KindConcat        PlaceholderKind = "concat"
	KindIf            PlaceholderKind = "if"
)

// Arg is a single element of a container command or args list. It is either a
// literal string or a placeholder that KFP resolves at runtime.
type Arg struct {
	Kind PlaceholderKind
	// Value is the literal string for KindLiteral, or the referenced input or
	// output name for the reference placeholders.
	Value string
	// Parts is set for KindConcat.
	Parts []Arg
	// If is set for KindIf.
	If *IfPlaceholder
}

// IfPlaceholder expands to Then when Cond holds and to Else otherwise.
type IfPlaceholder struct {
	Cond Condition `json:"cond"`
	Then []Arg     `json:"then,omitempty"`
	Else []Arg     `json:"else,omitempty"`
}

// Condition is the condition of an if placeholder. It is either an isPresent
// check of an input or a constant.
type Condition struct {
	IsPresent string
	Constant  bool
}

// Literal returns a literal argument.
func Literal(v string) Arg {
	return Arg{Value: v}
}

// Literals returns literal arguments for each of vs.
func Literals(vs ...string) []Arg {
	args := make([]Arg, 0, len(vs))
	for _, v := range vs {
		args = append(args, Literal(v))
	}
	return args
}

// InputValue returns an inputValue placeholder for the named input.
func InputValue(name string) Arg {
	return Arg{Kind: KindInputValue, Value: name}
}

// OutputPath returns an outputPath placeholder for the named output.
func OutputPath(name string) Arg {
	return Arg{Kind: KindOutputPath, Value: name}
}

// MarshalJSON implements json.Marshaler.
func (a Arg) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindLiteral:
		return json.Marshal(a.Value)
	case KindExecutorInput:
		return []byte(`{"executorInput":null}`), nil
	case KindConcat:
		return json.Marshal(map[string][]Arg{string(KindConcat): a.Parts})
	case KindIf:
		return json.Marshal(map[string]*IfPlaceholder{string(KindIf): a.If})
	default:
		return json.Marshal(map[string]string{string(a.Kind): a.Value})
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Arg) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty argument")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Literal(s)
		return nil
	case '{':
	case '[':
		return fmt.Errorf("argument must be a string or a placeholder, got a list")
	default:
		if bytes.Equal(data, []byte("null")) {
			return fmt.Errorf("argument must be a string or a placeholder, got null")
		}
		// Unquoted YAML scalars such as numbers are literals.
		*a = Literal(string(data))
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if len(fields) != 1 {
		return fmt.Errorf("placeholder must have exactly one key, got %d", len(fields))
	}
	for key, raw := range fields {
		kind := PlaceholderKind(key)
		switch kind {
		case KindInputValue, KindInputPath, KindInputURI, KindOutputPath, KindOutputURI:
			var name string
			if err := json.Unmarshal(raw, &name); err != nil || name == "" {
				return fmt.Errorf("%s placeholder requires a name, got %s", key, raw)
			}
			*a = Arg{Kind: kind, Value: name}
		case KindExecutorInput:
			*a = Arg{Kind: kind}
		case KindConcat:
			var parts []Arg
			if err := json.Unmarshal(raw, &parts); err != nil {
				return fmt.Errorf("invalid concat placeholder: %v", err)
			}
			*a = Arg{Kind: kind, Parts: parts}
		case KindIf:
			ip := &IfPlaceholder{}
			if err := json.Unmarshal(raw, ip); err != nil {
				return fmt.Errorf("invalid if placeholder: %v", err)
			}
			*a = Arg{Kind: kind, If: ip}
		default:
			return fmt.Errorf("unsupported placeholder %q", key)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Condition) MarshalJSON() ([]byte, error) {
	if c.IsPresent != "" {
		return json.Marshal(map[string]string{"isPresent": c.IsPresent})
	}
	return json.Marshal(c.Constant)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*c = Condition{Constant: b}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("condition %q is not a boolean", s)
		}
		*c = Condition{Constant: b}
		return nil
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("unsupported condition %s", data)
	}
	name, ok := fields["isPresent"]
	if !ok || len(fields) != 1 || name == "" {
		return fmt.Errorf("unsupported condition %s, only isPresent and constants are supported", data)
	}
	*c = Condition{IsPresent: name}
	return nil
}
