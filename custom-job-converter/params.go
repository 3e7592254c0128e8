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

package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/kfp-custom-job-converter/packages/customjob"
	"github.com/spf13/pflag"
)

// Environment variable keys whose values determine the behavior of the converter.
// Cloud Deploy transforms a deploy parameter "customTarget/vertexAICustomJobMachineType" into an
// environment variable of the form "CLOUD_DEPLOY_customTarget_vertexAICustomJobMachineType".
const (
	componentPathEnvKey         = "CLOUD_DEPLOY_customTarget_vertexAICustomJobComponentPath"
	workerPoolSpecsEnvKey       = "CLOUD_DEPLOY_customTarget_vertexAICustomJobWorkerPoolSpecs"
	displayNameEnvKey           = "CLOUD_DEPLOY_customTarget_vertexAICustomJobDisplayName"
	replicaCountEnvKey          = "CLOUD_DEPLOY_customTarget_vertexAICustomJobReplicaCount"
	machineTypeEnvKey           = "CLOUD_DEPLOY_customTarget_vertexAICustomJobMachineType"
	acceleratorTypeEnvKey       = "CLOUD_DEPLOY_customTarget_vertexAICustomJobAcceleratorType"
	acceleratorCountEnvKey      = "CLOUD_DEPLOY_customTarget_vertexAICustomJobAcceleratorCount"
	bootDiskTypeEnvKey          = "CLOUD_DEPLOY_customTarget_vertexAICustomJobBootDiskType"
	bootDiskSizeGBEnvKey        = "CLOUD_DEPLOY_customTarget_vertexAICustomJobBootDiskSizeGB"
	timeoutEnvKey               = "CLOUD_DEPLOY_customTarget_vertexAICustomJobTimeout"
	restartOnWorkerRestartKey   = "CLOUD_DEPLOY_customTarget_vertexAICustomJobRestartJobOnWorkerRestart"
	serviceAccountEnvKey        = "CLOUD_DEPLOY_customTarget_vertexAICustomJobServiceAccount"
	networkEnvKey               = "CLOUD_DEPLOY_customTarget_vertexAICustomJobNetwork"
	labelsEnvKey                = "CLOUD_DEPLOY_customTarget_vertexAICustomJobLabels"
	encryptionSpecKeyNameEnvKey = "CLOUD_DEPLOY_customTarget_vertexAICustomJobEncryptionSpecKeyName"
	tensorboardEnvKey           = "CLOUD_DEPLOY_customTarget_vertexAICustomJobTensorboard"
	baseOutputDirectoryEnvKey   = "CLOUD_DEPLOY_customTarget_vertexAICustomJobBaseOutputDirectory"
	launcherImageEnvKey         = "CLOUD_DEPLOY_customTarget_vertexAICustomJobLauncherImage"
	destinationEnvKey           = "CLOUD_DEPLOY_customTarget_vertexAICustomJobDestination"
)

// defaultComponentPath is used when no component path is configured.
const defaultComponentPath = "component.yaml"

// params contains the converter configuration, provided either as deploy parameters
// or as command line flags.
type params struct {
	// Path to the component to convert. Relative to the release archive when running
	// in Cloud Deploy, otherwise a local path or a Cloud Storage URI.
	componentPath string
	// Optional path to a YAML or JSON list of worker pool specs.
	workerPoolSpecsPath string
	// Where the converted component is written in local mode. Standard output if empty.
	outputPath string
	// Cloud Storage URI the converted component is published to at deploy time. A
	// URI ending in "/" is treated as a directory and the component file name is appended.
	destination string

	options customjob.Options
}

// determineParams returns the params provided in the execution environment via environment variables.
func determineParams() (*params, error) {
	p := &params{
		componentPath:       defaultComponentPath,
		workerPoolSpecsPath: os.Getenv(workerPoolSpecsEnvKey),
		destination:         os.Getenv(destinationEnvKey),
		options: customjob.Options{
			DisplayName:           os.Getenv(displayNameEnvKey),
			MachineType:           os.Getenv(machineTypeEnvKey),
			AcceleratorType:       os.Getenv(acceleratorTypeEnvKey),
			BootDiskType:          os.Getenv(bootDiskTypeEnvKey),
			ServiceAccount:        os.Getenv(serviceAccountEnvKey),
			Network:               os.Getenv(networkEnvKey),
			EncryptionSpecKeyName: os.Getenv(encryptionSpecKeyNameEnvKey),
			Tensorboard:           os.Getenv(tensorboardEnvKey),
			BaseOutputDirectory:   os.Getenv(baseOutputDirectoryEnvKey),
			LauncherImage:         os.Getenv(launcherImageEnvKey),
		},
	}
	if cp := os.Getenv(componentPathEnvKey); cp != "" {
		p.componentPath = cp
	}

	var err error
	if p.options.ReplicaCount, err = lookupInt(replicaCountEnvKey); err != nil {
		return nil, err
	}
	if p.options.AcceleratorCount, err = lookupInt(acceleratorCountEnvKey); err != nil {
		return nil, err
	}
	if p.options.BootDiskSizeGB, err = lookupInt(bootDiskSizeGBEnvKey); err != nil {
		return nil, err
	}
	if t, ok := os.LookupEnv(timeoutEnvKey); ok && t != "" {
		if p.options.Timeout, err = time.ParseDuration(t); err != nil {
			return nil, fmt.Errorf("failed to parse parameter %q: %v", timeoutEnvKey, err)
		}
	}
	if r, ok := os.LookupEnv(restartOnWorkerRestartKey); ok && r != "" {
		if p.options.RestartJobOnWorkerRestart, err = strconv.ParseBool(r); err != nil {
			return nil, fmt.Errorf("failed to parse parameter %q: %v", restartOnWorkerRestartKey, err)
		}
	}
	if l, ok := os.LookupEnv(labelsEnvKey); ok && l != "" {
		if p.options.Labels, err = parseLabels(l); err != nil {
			return nil, fmt.Errorf("failed to parse parameter %q: %v", labelsEnvKey, err)
		}
	}
	return p, nil
}

// lookupInt returns the integer value of the environment variable, or zero if it is unset.
func lookupInt(key string) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return 0, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse parameter %q: %v", key, err)
	}
	return i, nil
}

// parseLabels parses labels in the "key1=value1,key2=value2" format.
func parseLabels(s string) (map[string]string, error) {
	labels := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("label %q must be in the key=value format", kv)
		}
		if _, dup := labels[k]; dup {
			return nil, fmt.Errorf("duplicate label key %q", k)
		}
		labels[k] = v
	}
	return labels, nil
}

// labelsFlag implements pflag.Value for a label map.
type labelsFlag struct {
	labels *map[string]string
}

func (f labelsFlag) String() string {
	if f.labels == nil {
		return ""
	}
	var kvs []string
	for k, v := range *f.labels {
		kvs = append(kvs, k+"="+v)
	}
	sort.Strings(kvs)
	return strings.Join(kvs, ",")
}

func (f labelsFlag) Type() string {
	return "labels"
}

func (f labelsFlag) Set(s string) error {
	labels, err := parseLabels(s)
	if err != nil {
		return err
	}
	*f.labels = labels
	return nil
}

// addFlags defines the local mode flags on fs. The current values of p are
// used as the flag defaults, so the flags override the environment.
func (p *params) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&p.componentPath, "component", p.componentPath, "Path or gs:// URI of the KFP component to convert")
	fs.StringVar(&p.outputPath, "output", p.outputPath, "Path or gs:// URI to write the converted component to, standard output if empty")
	fs.StringVar(&p.workerPoolSpecsPath, "worker-pool-specs", p.workerPoolSpecsPath, "Path or gs:// URI of a YAML or JSON list of worker pool specs")

	o := &p.options
	fs.StringVar(&o.DisplayName, "display-name", o.DisplayName, "CustomJob display name, defaults to the component name")
	fs.Int64Var(&o.ReplicaCount, "replica-count", o.ReplicaCount, "Total number of replicas")
	fs.StringVar(&o.MachineType, "machine-type", o.MachineType, "Machine type of the worker pools")
	fs.StringVar(&o.AcceleratorType, "accelerator-type", o.AcceleratorType, "Accelerator type, e.g. NVIDIA_TESLA_T4")
	fs.Int64Var(&o.AcceleratorCount, "accelerator-count", o.AcceleratorCount, "Number of accelerators per replica")
	fs.StringVar(&o.BootDiskType, "boot-disk-type", o.BootDiskType, "Boot disk type, e.g. pd-ssd")
	fs.Int64Var(&o.BootDiskSizeGB, "boot-disk-size-gb", o.BootDiskSizeGB, "Boot disk size in GB")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Maximum job running time")
	fs.BoolVar(&o.RestartJobOnWorkerRestart, "restart-job-on-worker-restart", o.RestartJobOnWorkerRestart, "Restart the whole job when a worker restarts")
	fs.StringVar(&o.ServiceAccount, "service-account", o.ServiceAccount, "Default service account of the job")
	fs.StringVar(&o.Network, "network", o.Network, "Default VPC network of the job")
	fs.StringVar(&o.EncryptionSpecKeyName, "encryption-spec-key-name", o.EncryptionSpecKeyName, "Default Cloud KMS key of the job")
	fs.StringVar(&o.Tensorboard, "tensorboard", o.Tensorboard, "Default Vertex AI TensorBoard resource")
	fs.StringVar(&o.BaseOutputDirectory, "base-output-directory", o.BaseOutputDirectory, "Default Cloud Storage output directory of the job")
	fs.StringVar(&o.LauncherImage, "launcher-image", o.LauncherImage, "Image running the CustomJob launcher")
	if o.Labels == nil {
		o.Labels = map[string]string{}
	}
	fs.Var(labelsFlag{labels: &o.Labels}, "labels", "Job labels in the key1=value1,key2=value2 format")
}
