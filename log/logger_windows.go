// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package log

import (
	"fmt"
	"io"
	"os"
)

// SetTarget sets the log target.
func (logger *Logger) SetTarget(target int) error {
	var out io.Writer
	var file io.WriteCloser
	var err error

	switch target {
	case TargetStderr:
		out = os.Stderr
	case TargetLogfile:
		var f *os.File
		f, err = os.OpenFile(logger.getLogFileName(), os.O_CREATE|os.O_APPEND|os.O_RDWR, logFilePerm)
		out, file = f, f
	default:
		err = fmt.Errorf("Invalid log target %d", target)
	}

	if err == nil {
		logger.target = target
		logger.out = file
		logger.l.SetOutput(out)
	}

	return err
}
