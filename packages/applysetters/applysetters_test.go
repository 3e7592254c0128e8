package applysetters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyParams(t *testing.T) {
	var tests = []struct {
		name     string
		params   map[string]string
		input    string
		expected string
	}{
		{
			name:   "set image and default",
			params: map[string]string{"customTarget/image": "trainer:v2", "customTarget/epochs": "20"},
			input: `name: train
inputs:
- name: epochs
  default: "10" # from-param: ${customTarget/epochs}
implementation:
  container:
    image: trainer:v1 # from-param: ${customTarget/image}
`,
			expected: `name: train
inputs:
- name: epochs
  default: "20" # from-param: ${customTarget/epochs}
implementation:
  container:
    image: trainer:v2 # from-param: ${customTarget/image}
`,
		},
		{
			name:     "template with prefix",
			params:   map[string]string{"customTarget/tag": "v3"},
			input:    "image: trainer:v1 # from-param: us-docker.pkg.dev/p/trainer:${customTarget/tag}\n",
			expected: "image: us-docker.pkg.dev/p/trainer:v3 # from-param: us-docker.pkg.dev/p/trainer:${customTarget/tag}\n",
		},
		{
			name:     "missing parameter keeps value",
			params:   map[string]string{"customTarget/other": "x"},
			input:    "image: trainer:v1 # from-param: ${customTarget/image}\n",
			expected: "image: trainer:v1 # from-param: ${customTarget/image}\n",
		},
		{
			name:     "ordinary comment",
			params:   map[string]string{"customTarget/image": "trainer:v2"},
			input:    "image: trainer:v1 # pinned, from-param: ${customTarget/image}\n",
			expected: "image: trainer:v1 # pinned, from-param: ${customTarget/image}\n",
		},
		{
			name:     "no parameters",
			input:    "name: train   # keep formatting\nimage:   trainer:v1\n",
			expected: "name: train   # keep formatting\nimage:   trainer:v1\n",
		},
	}
	for i := range tests {
		test := tests[i]
		t.Run(test.name, func(t *testing.T) {
			out, err := ApplyParams([]byte(test.input), test.params)
			if !assert.NoError(t, err) {
				t.FailNow()
			}
			assert.Equal(t, test.expected, string(out))
		})
	}
}

func TestApplyParamsInvalid(t *testing.T) {
	_, err := ApplyParams([]byte("a: [b # from-param: ${c}\n"), map[string]string{"c": "d"})
	assert.Error(t, err)
}

func TestApplyParamsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker_pool_specs.yaml")
	input := `- machine_spec:
    machine_type: n1-standard-4 # from-param: ${customTarget/machineType}
  replica_count: 1
`
	if !assert.NoError(t, os.WriteFile(path, []byte(input), 0o644)) {
		t.FailNow()
	}
	err := ApplyParamsToFile(path, map[string]string{"customTarget/machineType": "a2-highgpu-1g"})
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	data, err := os.ReadFile(path)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	assert.Contains(t, string(data), "machine_type: a2-highgpu-1g")

	assert.Error(t, ApplyParamsToFile(filepath.Join(t.TempDir(), "missing.yaml"), nil))
}
