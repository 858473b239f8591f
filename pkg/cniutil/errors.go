// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package cniutil

import (
	"errors"

	cniTypes "github.com/containernetworking/cni/pkg/types"
)

// Error codes reserved by the CNI spec are re-exported from cniTypes so
// callers don't need to import both packages. Plugin-specific codes (100+)
// are defined here.
const (
	CodeIncompatibleVersion = uint(cniTypes.ErrIncompatibleCNIVersion)
	CodeInvalidEnvironment  = uint(cniTypes.ErrInvalidEnvironmentVariables)
	CodeIOFailure           = uint(cniTypes.ErrIOFailure)
	CodeDecodingFailure     = uint(cniTypes.ErrDecodingFailure)
	CodeInvalidNetworkConf  = uint(cniTypes.ErrInvalidNetworkConfig)

	CodeGeneric          = 100
	CodeDebug            = 101
	CodeMissingField     = 104
	CodeInvalidField     = 107
	CodeFetchFailure     = 111
	CodeMissingResource  = 114
	CodeInvalidResource  = 117
	CodeURLConstruction  = 120
	CodePoolFull         = 122
	CodeIPNotInPool      = 124
	CodeKVWriteFailed    = 125
)

// NewError builds a *cniTypes.Error carrying one of the codes above. msg
// should be a short static string; details is free text.
func NewError(code uint, msg, details string) *cniTypes.Error {
	return &cniTypes.Error{
		Code:    code,
		Msg:     msg,
		Details: details,
	}
}

// ErrMissingPayload is returned when stdin is empty.
var ErrMissingPayload = NewError(CodeIOFailure, "missing payload", "no network configuration was read from stdin")

// AsCNIError coerces any error into a *cniTypes.Error, wrapping errors
// that don't originate from a recognised kind under the generic code. It
// unwraps through
// fmt.Errorf("%w", ...) chains and retry.Unrecoverable alike via
// errors.As, so a code raised deep in a retry loop or a delegation wrap
// still reaches the top-level ErrorReply.
func AsCNIError(err error) *cniTypes.Error {
	if err == nil {
		return nil
	}
	var cniErr *cniTypes.Error
	if errors.As(err, &cniErr) {
		return cniErr
	}
	return NewError(CodeGeneric, err.Error(), "")
}
