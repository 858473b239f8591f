// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package platform

import "os"

const (
	// K8SCNIRuntimePath is where kubelet looks up CNI plugin binaries.
	K8SCNIRuntimePath = "C:\\k\\cni\\bin"
	// K8SNetConfigPath is where kubelet looks up CNI network configuration.
	K8SNetConfigPath = "C:\\k\\cni\\netconf"
	// LogPath is the default directory for on-disk plugin logs.
	LogPath = ""
)

// GetOSInfo returns OS version information as a diagnostic string, never
// failing the caller if it can't be read.
func GetOSInfo() string {
	info := os.Getenv("OS")
	if info == "" {
		return "windows"
	}
	return info
}
