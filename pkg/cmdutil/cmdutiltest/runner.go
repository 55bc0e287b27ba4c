// Package cmdutiltest provides a scripted cmdutil.Runner for tests.
package cmdutiltest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"atomdeploy/pkg/cmdutil"
)

// Call is one recorded command.
type Call struct {
	Dir  string
	Args []string
}

// String joins the arguments with spaces.
func (c Call) String() string {
	return strings.Join(c.Args, " ")
}

// Response is what a scripted command returns.
type Response struct {
	Output   string
	ExitCode int
	Err      error
}

// ScriptRunner answers commands from a script instead of running them.
// Responses are matched by the longest key that prefixes the space-joined
// command; unmatched commands succeed with no output.
type ScriptRunner struct {
	mu        sync.Mutex
	Calls     []Call
	Responses map[string]Response
	Files     map[string][]byte
	Closed    bool

	// Handler, when set, overrides Responses.
	Handler func(args []string) Response
}

// NewScriptRunner returns an empty script.
func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{
		Responses: make(map[string]Response),
		Files:     make(map[string][]byte),
	}
}

// On scripts the response for commands starting with prefix.
func (r *ScriptRunner) On(prefix string, resp Response) *ScriptRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Responses[prefix] = resp
	return r
}

// Commands returns the recorded commands as joined strings.
func (r *ScriptRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.String()
	}
	return out
}

// Run records the command and returns its scripted response.
func (r *ScriptRunner) Run(ctx context.Context, opts cmdutil.ExecOptions, cmdParts []string) (*cmdutil.Result, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Dir: opts.Dir, Args: append([]string(nil), cmdParts...)})
	resp := r.lookup(cmdParts)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &cmdutil.Result{ExitCode: -1}, err
	}

	result := &cmdutil.Result{Output: []byte(resp.Output), ExitCode: resp.ExitCode}
	if resp.Err != nil {
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		return result, resp.Err
	}
	if resp.ExitCode != 0 {
		return result, fmt.Errorf("command failed: exit status %d", resp.ExitCode)
	}
	return result, nil
}

func (r *ScriptRunner) lookup(cmdParts []string) Response {
	if r.Handler != nil {
		return r.Handler(cmdParts)
	}

	joined := strings.Join(cmdParts, " ")
	best, found := "", false
	for prefix := range r.Responses {
		if strings.HasPrefix(joined, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return Response{}
	}
	return r.Responses[best]
}

// ReadFile returns a file from Files, or an error matching os.ErrNotExist.
func (r *ScriptRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.Files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

// WriteFile stores data in Files.
func (r *ScriptRunner) WriteFile(_ context.Context, path string, data []byte, _ os.FileMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Files[path] = append([]byte(nil), data...)
	return nil
}

// Close marks the runner closed.
func (r *ScriptRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Closed = true
	return nil
}
