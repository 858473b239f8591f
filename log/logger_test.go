// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package log

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"testing"
)

const (
	logName = "test"
)

// Tests that the log file rotates when size limit is reached.
func TestLogFileRotatesWhenSizeLimitIsReached(t *testing.T) {
	dir := t.TempDir()

	l := NewLogger(logName, LevelInfo, TargetStderr)
	if l == nil {
		t.Fatalf("Failed to create logger.\n")
	}
	if err := l.SetTargetLogDirectory(TargetLogfile, dir); err != nil {
		t.Fatalf("Failed to set log directory, %v", err)
	}

	l.SetLogFileLimits(512, 2)

	for i := 1; i <= 100; i++ {
		l.Logf("LogText %v", i)
	}

	l.Close()

	fn := path.Join(dir, logName+logFileExtension)
	if _, err := os.Stat(fn); err != nil {
		t.Errorf("Failed to find active log file.")
	}

	fn = path.Join(dir, logName+logFileExtension+".1")
	if _, err := os.Stat(fn); err != nil {
		t.Errorf("Failed to find the 1st rotated log file.")
	}

	fn = path.Join(dir, logName+logFileExtension+".2")
	if _, err := os.Stat(fn); err == nil {
		t.Errorf("Found the 2nd rotated log file which should have been deleted.")
	}
}

func TestPid(t *testing.T) {
	dir := t.TempDir()

	l := NewLogger(logName, LevelInfo, TargetStderr)
	if l == nil {
		t.Fatalf("Failed to create logger.")
	}
	if err := l.SetTargetLogDirectory(TargetLogfile, dir); err != nil {
		t.Fatalf("Failed to set log directory, %v", err)
	}

	l.Printf("LogText %v", 1)
	l.Close()

	fn := path.Join(dir, logName+logFileExtension)
	logBytes, err := ioutil.ReadFile(fn)
	if err != nil {
		t.Fatalf("Failed to read log, %v", err)
	}
	log := string(logBytes)
	exptectedLog := fmt.Sprintf("[%v] LogText 1", os.Getpid())

	if !strings.Contains(log, exptectedLog) {
		t.Fatalf("Unexpected log: %s.", log)
	}
}
