// Copyright 2017 Microsoft. All rights reserved.
// MIT License

// Package platform holds the handful of OS-specific constants and queries
// every plugin binary shares: the well-known CNI runtime paths, the log
// directory, and a GetOSInfo diagnostic string that cniutil.Run logs at
// debug level.
package platform

import "os"

const (
	// K8SCNIRuntimePath is where kubelet looks up CNI plugin binaries.
	K8SCNIRuntimePath = "/opt/cni/bin"
	// K8SNetConfigPath is where kubelet looks up CNI network configuration.
	K8SNetConfigPath = "/etc/cni/net.d"
	// LogPath is the default directory for on-disk plugin logs.
	LogPath = "/var/log/cni/"
	// osReleaseFile backs GetOSInfo's diagnostic output.
	osReleaseFile = "/proc/version"
)

// GetOSInfo returns OS version information as a diagnostic string, never
// failing the caller if it can't be read.
func GetOSInfo() string {
	info, err := os.ReadFile(osReleaseFile)
	if err != nil {
		return "unknown"
	}
	return string(info)
}
