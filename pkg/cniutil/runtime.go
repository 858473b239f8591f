// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package cniutil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/cni-kv/plugins/log"
	"github.com/cni-kv/plugins/platform"

	cniSkel "github.com/containernetworking/cni/pkg/skel"
	cniTypes "github.com/containernetworking/cni/pkg/types"
	cniVers "github.com/containernetworking/cni/pkg/version"
)

// containerIDPattern is the accepted CNI_CONTAINERID grammar. It is
// stricter than the CNI spec's own (mixed-case) pattern, matching the
// lowercase-only convention this suite's orchestrators emit.
var containerIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Request is the decoded input to one plugin invocation: the CNI env
// vars plus the parsed NetworkConfig read from stdin.
type Request struct {
	ContainerID string
	IfName      string
	Netns       string
	Path        string
	Config      *NetworkConfig
}

// Handlers is the set of command implementations a plugin binary supplies.
// Check may be left nil; Run replies with an "unimplemented" error for it.
type Handlers struct {
	Add   func(*Request) (*SuccessReply, error)
	Del   func(*Request) error
	Check func(*Request) error
}

// Run is the protocol runtime entry point: it reads
// CNI_COMMAND, dispatches VERSION itself, and otherwise hands ADD/DEL/CHECK
// to skel.PluginMainWithError with this suite's env validation layered on
// top. It always exits the process; callers should invoke it last in main().
func Run(h Handlers) {
	if os.Getenv("CNI_PATH") == "" {
		os.Setenv("CNI_PATH", platform.K8SCNIRuntimePath)
	}
	log.Debugf("[cniutil] starting on %s", platform.GetOSInfo())

	if os.Getenv("CNI_COMMAND") == "VERSION" {
		runVersion()
		return
	}

	pluginInfo := cniVers.PluginSupports(SupportedVersions...)
	cniErr := cniSkel.PluginMainWithError(
		adaptAdd(h.Add),
		adaptCheck(h.Check),
		adaptDel(h.Del),
		pluginInfo,
		"",
	)
	if cniErr != nil {
		cniErr.Print()
		os.Exit(int(cniErr.Code))
	}
	os.Exit(0)
}

// VersionReply is the VERSION command's reply document.
type VersionReply struct {
	CNIVersion        string   `json:"cniVersion"`
	SupportedVersions []string `json:"supportedVersions"`
}

// buildVersionReply answers the VERSION command with the statically
// supported versions, plus the request's own cniVersion if it satisfies
// the compatibility range.
func buildVersionReply(stdin []byte) VersionReply {
	reply := VersionReply{
		CNIVersion:        HighestSupported(),
		SupportedVersions: append([]string{}, SupportedVersions...),
	}

	if len(stdin) > 0 {
		var probe struct {
			CNIVersion string `json:"cniVersion"`
		}
		if err := json.Unmarshal(stdin, &probe); err == nil && probe.CNIVersion != "" {
			if IsCompatible(probe.CNIVersion) && !contains(reply.SupportedVersions, probe.CNIVersion) {
				reply.SupportedVersions = append(reply.SupportedVersions, probe.CNIVersion)
			}
		}
	}
	return reply
}

func runVersion() {
	stdin, _ := readAllStdin()
	b, _ := json.Marshal(buildVersionReply(stdin))
	fmt.Fprintln(os.Stdout, string(b))
	os.Exit(0)
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func readAllStdin() ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func validateContainerID(id string) *cniTypes.Error {
	if id == "" || !containerIDPattern.MatchString(id) {
		return NewError(CodeInvalidEnvironment, "invalid CNI_CONTAINERID", fmt.Sprintf("%q does not match %s", id, containerIDPattern.String()))
	}
	return nil
}

func toRequest(args *cniSkel.CmdArgs, requireNetns bool) (*Request, *cniTypes.Error) {
	if err := validateContainerID(args.ContainerID); err != nil {
		return nil, err
	}
	if requireNetns && args.Netns == "" {
		return nil, NewError(CodeInvalidEnvironment, "missing CNI_NETNS", "")
	}

	cfg, err := ParseNetworkConfig(args.StdinData)
	if err != nil {
		if cniErr, ok := err.(*cniTypes.Error); ok {
			return nil, cniErr
		}
		return nil, NewError(CodeDecodingFailure, "failed to decode network configuration", err.Error())
	}

	if !IsCompatible(cfg.CNIVersion) {
		return nil, NewError(CodeIncompatibleVersion, "Incompatible CNI version", cfg.CNIVersion)
	}

	return &Request{
		ContainerID: args.ContainerID,
		IfName:      args.IfName,
		Netns:       args.Netns,
		Path:        args.Path,
		Config:      cfg,
	}, nil
}

func adaptAdd(fn func(*Request) (*SuccessReply, error)) func(*cniSkel.CmdArgs) error {
	return func(args *cniSkel.CmdArgs) error {
		if fn == nil {
			return NewError(CodeGeneric, "ADD not implemented by this plugin", "")
		}
		req, cniErr := toRequest(args, true)
		if cniErr != nil {
			return stampVersion(cniErr, args)
		}
		reply, err := fn(req)
		if err != nil {
			return stampVersion(AsCNIError(err), args)
		}
		if reply.CNIVersion == "" {
			reply.CNIVersion = req.Config.CNIVersion
		}
		return cniTypes.PrintResult(&rawResult{reply}, reply.CNIVersion)
	}
}

func adaptDel(fn func(*Request) error) func(*cniSkel.CmdArgs) error {
	return func(args *cniSkel.CmdArgs) error {
		if fn == nil {
			return nil
		}
		req, cniErr := toRequest(args, false)
		if cniErr != nil {
			return stampVersion(cniErr, args)
		}
		if err := fn(req); err != nil {
			return stampVersion(AsCNIError(err), args)
		}
		return nil
	}
}

func adaptCheck(fn func(*Request) error) func(*cniSkel.CmdArgs) error {
	return func(args *cniSkel.CmdArgs) error {
		if fn == nil {
			return NewError(CodeGeneric, "CHECK not implemented by this plugin", "")
		}
		req, cniErr := toRequest(args, true)
		if cniErr != nil {
			return stampVersion(cniErr, args)
		}
		if err := fn(req); err != nil {
			return stampVersion(AsCNIError(err), args)
		}
		return nil
	}
}

// stampVersion returns cniErr unchanged. The error reply Run prints via
// cniErr.Print() carries only code, msg and details; no cniVersion field
// is added to it, neither the input's version nor HighestSupported().
func stampVersion(cniErr *cniTypes.Error, args *cniSkel.CmdArgs) error {
	if cniErr == nil {
		return nil
	}
	return cniErr
}

// rawResult adapts a SuccessReply to cniTypes.Result so cniTypes.PrintResult
// can marshal/version-convert it like any native CNI result type.
type rawResult struct {
	reply *SuccessReply
}

func (r *rawResult) Version() string { return r.reply.CNIVersion }

func (r *rawResult) GetAsVersion(_ string) (cniTypes.Result, error) {
	return r, nil
}

func (r *rawResult) Print() error {
	return r.PrintTo(os.Stdout)
}

func (r *rawResult) PrintTo(writer io.Writer) error {
	b, err := json.Marshal(r.reply)
	if err != nil {
		return err
	}
	_, err = writer.Write(b)
	return err
}
