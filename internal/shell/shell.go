// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package shell runs external programs and captures their output.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultWarnLogLines is the number of trailing output lines replayed at
	// warn level when a command fails.
	DefaultWarnLogLines = 1500

	// LogDisabledLevel disables logging of an output stream entirely.
	LogDisabledLevel = logrus.Level(255)
)

// ExecError describes an external program that exited with a non-zero code.
type ExecError struct {
	Program  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command (%s) failed with exit code (%d):\n%s", e.Program, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command (%s) failed with exit code (%d)", e.Program, e.ExitCode)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ExecHook intercepts program execution. When installed, no real process is
// spawned; the hook supplies the program's output and exit status instead.
// Tests use this to fake external tools and record invocation order.
type ExecHook func(program string, args []string, stdin string, env []string) (stdout string, stderr string, err error)

var execHook ExecHook

// SetExecHook installs hook as the process launcher. Pass nil to restore
// real execution.
func SetExecHook(hook ExecHook) {
	execHook = hook
}

// ExecBuilder configures a single program invocation.
type ExecBuilder struct {
	program          string
	args             []string
	stdin            string
	env              []string
	stdoutCallback   func(line string)
	stdoutLogLevel   logrus.Level
	stderrLogLevel   logrus.Level
	errorStderrLines int
	warnLogLines     int
}

// NewExecBuilder returns a builder for the given program and arguments.
func NewExecBuilder(program string, args ...string) ExecBuilder {
	return ExecBuilder{
		program:        program,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
}

// Stdin sets a string to pipe to the program's stdin.
func (b ExecBuilder) Stdin(value string) ExecBuilder {
	b.stdin = value
	return b
}

// EnvironmentVariables appends KEY=VALUE pairs to the program's environment.
func (b ExecBuilder) EnvironmentVariables(env []string) ExecBuilder {
	b.env = append([]string(nil), env...)
	return b
}

// StdoutCallback invokes the callback for every line the program writes to
// stdout.
func (b ExecBuilder) StdoutCallback(callback func(line string)) ExecBuilder {
	b.stdoutCallback = callback
	return b
}

// LogLevel sets the levels at which stdout and stderr lines are logged.
func (b ExecBuilder) LogLevel(stdoutLevel, stderrLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLevel
	b.stderrLogLevel = stderrLevel
	return b
}

// ErrorStderrLines attaches the last count stderr lines to a returned error.
func (b ExecBuilder) ErrorStderrLines(count int) ExecBuilder {
	b.errorStderrLines = count
	return b
}

// WarnLogLines replays the last count output lines at warn level on failure.
func (b ExecBuilder) WarnLogLines(count int) ExecBuilder {
	b.warnLogLines = count
	return b
}

// Execute runs the program, logging its output.
func (b ExecBuilder) Execute() error {
	_, _, err := b.run(false)
	return err
}

// ExecuteCaptureOutput runs the program and returns its captured stdout and
// stderr.
func (b ExecBuilder) ExecuteCaptureOutput() (stdout string, stderr string, err error) {
	return b.run(true)
}

func (b ExecBuilder) run(captureOutput bool) (stdout string, stderr string, err error) {
	logger.Log.Debugf("Executing: %s %v", b.program, b.args)

	if execHook != nil {
		stdout, stderr, err = execHook(b.program, b.args, b.stdin, b.env)
		var execErr *ExecError
		if err != nil && !errors.As(err, &execErr) {
			err = wrapExecError(b.program, b.args, stderr, err)
		}
		if b.stdoutCallback != nil {
			for _, line := range splitLines(stdout) {
				b.stdoutCallback(line)
			}
		}
		return stdout, stderr, err
	}

	cmd := exec.Command(b.program, b.args...)
	if len(b.env) != 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}
	if b.stdin != "" {
		cmd.Stdin = strings.NewReader(b.stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe for (%s):\n%w", b.program, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe for (%s):\n%w", b.program, err)
	}

	err = cmd.Start()
	if err != nil {
		return "", "", fmt.Errorf("failed to start (%s):\n%w", b.program, err)
	}

	var (
		wg            sync.WaitGroup
		stdoutBuilder strings.Builder
		stderrBuilder strings.Builder
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		b.consumeStream(stdoutPipe, &stdoutBuilder, b.stdoutLogLevel, b.stdoutCallback)
	}()
	go func() {
		defer wg.Done()
		b.consumeStream(stderrPipe, &stderrBuilder, b.stderrLogLevel, nil)
	}()
	wg.Wait()

	err = cmd.Wait()
	stdout = stdoutBuilder.String()
	stderr = stderrBuilder.String()

	if err != nil {
		if b.warnLogLines > 0 {
			replayTrailingLines(stderr, b.warnLogLines)
		}

		attachedStderr := stderr
		if b.errorStderrLines > 0 {
			attachedStderr = trailingLines(stderr, b.errorStderrLines)
		}
		err = wrapExecError(b.program, b.args, attachedStderr, err)
		return stdout, stderr, err
	}

	return stdout, stderr, nil
}

func (b ExecBuilder) consumeStream(reader io.Reader, builder *strings.Builder, level logrus.Level, callback func(string)) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		builder.WriteString(line)
		builder.WriteString("\n")
		if level != LogDisabledLevel {
			logger.Log.Log(level, line)
		}
		if callback != nil {
			callback(line)
		}
	}
}

func wrapExecError(program string, args []string, stderr string, err error) error {
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &ExecError{
		Program:  program,
		Args:     append([]string(nil), args...),
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Err:      err,
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func trailingLines(s string, count int) string {
	lines := splitLines(s)
	if len(lines) > count {
		lines = lines[len(lines)-count:]
	}
	return strings.Join(lines, "\n")
}

func replayTrailingLines(s string, count int) {
	for _, line := range splitLines(trailingLines(s, count)) {
		logger.Log.Warn(line)
	}
}

// Execute runs the program and returns its captured stdout and stderr. A
// non-zero exit code is returned as an *ExecError.
func Execute(program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).ExecuteCaptureOutput()
}

// ExecuteWithStdin runs the program with the given string piped to stdin.
func ExecuteWithStdin(input string, program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).Stdin(input).ExecuteCaptureOutput()
}

// ExecuteLive runs the program, streaming its output to the log as it runs.
// When squashErrors is set, stderr is logged at debug level instead of warn.
func ExecuteLive(squashErrors bool, program string, args ...string) error {
	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, stderrLevel).
		Execute()
}

// ExecuteLiveWithErr runs the program live and attaches the last stderrLines
// lines of stderr to any returned error.
func ExecuteLiveWithErr(stderrLines int, program string, args ...string) error {
	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, logrus.DebugLevel).
		ErrorStderrLines(stderrLines).
		Execute()
}
