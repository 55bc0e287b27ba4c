package host

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"atomdeploy/internal/security"
	"atomdeploy/pkg/cmdutil"
)

// DefaultDialTimeout bounds connection setup to a target host.
const DefaultDialTimeout = 30 * time.Second

// exitNotExist is the status the remote read script uses for a missing file.
const exitNotExist = 44

// SSHConfig describes how to reach a remote host.
type SSHConfig struct {
	User           string
	Address        string
	Port           int
	KeyFile        string
	KnownHostsFile string
	DialTimeout    time.Duration
}

// SSHRunner runs commands on a remote host over one SSH connection.
// Each command gets its own session.
type SSHRunner struct {
	client *ssh.Client
	addr   string
}

// DialSSH connects to the host in cfg. The host key must be present in the
// known_hosts file and the private key must not be readable by others.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHRunner, error) {
	clientConfig, err := newSSHClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	dialer := &net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// Bound the handshake too; the deadline is cleared once the connection is up
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(clientConfig.Timeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})

	return &SSHRunner{client: ssh.NewClient(sshConn, chans, reqs), addr: addr}, nil
}

func newSSHClientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	if err := security.ValidateSecurePermissions(cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("ssh key: %w", err)
	}
	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key %s: %w", cfg.KeyFile, err)
	}

	hostKeyCallback, err := knownhosts.New(cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	return &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Run executes the command on the remote host. Arguments are quoted so the
// remote shell sees exactly cmdParts.
func (r *SSHRunner) Run(ctx context.Context, opts cmdutil.ExecOptions, cmdParts []string) (*cmdutil.Result, error) {
	if len(cmdParts) == 0 {
		return &cmdutil.Result{ExitCode: -1}, fmt.Errorf("empty command")
	}

	command := cmdutil.JoinCommand(cmdParts)
	if len(opts.Env) > 0 {
		command = cmdutil.JoinCommand(append([]string{"env"}, opts.Env...)) + " " + command
	}
	if opts.Dir != "" {
		command = "cd " + cmdutil.JoinCommand([]string{opts.Dir}) + " && " + command
	}

	var output bytes.Buffer
	combined := &lockedWriter{w: &output}
	start := time.Now()
	exitCode, err := r.exec(ctx, opts.Timeout, command, nil, combined, combined)
	result := &cmdutil.Result{Output: output.Bytes(), ExitCode: exitCode, Duration: time.Since(start)}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && opts.Timeout > 0 {
			return result, fmt.Errorf("command timed out after %s: %w", opts.Timeout, err)
		}
		return result, fmt.Errorf("command failed on %s: %w", r.addr, err)
	}
	return result, nil
}

// ReadFile reads a remote file. A missing file yields an error matching os.ErrNotExist.
func (r *SSHRunner) ReadFile(ctx context.Context, path string) ([]byte, error) {
	quoted := cmdutil.JoinCommand([]string{path})
	script := fmt.Sprintf("[ -f %s ] || exit %d; cat %s", quoted, exitNotExist, quoted)

	var stdout, stderr bytes.Buffer
	exitCode, err := r.exec(ctx, 0, script, nil, &stdout, &stderr)
	if exitCode == exitNotExist {
		return nil, &fs.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s on %s: %w: %s", path, r.addr, err, cmdutil.TailOutput(stderr.Bytes(), 3))
	}
	return stdout.Bytes(), nil
}

// WriteFile replaces a remote file atomically: the data is streamed to a
// temporary file in the same directory which is then renamed over path.
func (r *SSHRunner) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Errorf("failed to generate temporary name: %w", err)
	}
	tmp := cmdutil.JoinCommand([]string{path + ".tmp-" + hex.EncodeToString(suffix)})
	target := cmdutil.JoinCommand([]string{path})

	script := fmt.Sprintf("umask 077 && cat > %[1]s && chmod %[3]o %[1]s && mv -f %[1]s %[2]s || { rm -f %[1]s; exit 1; }",
		tmp, target, uint32(perm.Perm()))

	var stderr bytes.Buffer
	combined := &lockedWriter{w: &stderr}
	if _, err := r.exec(ctx, 0, script, bytes.NewReader(data), combined, combined); err != nil {
		return fmt.Errorf("failed to write %s on %s: %w: %s", path, r.addr, err, cmdutil.TailOutput(stderr.Bytes(), 3))
	}
	return nil
}

// Close closes the SSH connection.
func (r *SSHRunner) Close() error {
	return r.client.Close()
}

// lockedWriter serialises writes from the session's stdout and stderr copiers,
// which run in separate goroutines.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// exec runs command in a new session and returns its exit status.
// The session is killed when ctx is done or timeout elapses.
func (r *SSHRunner) exec(ctx context.Context, timeout time.Duration, command string, stdin *bytes.Reader, stdout, stderr io.Writer) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := r.client.NewSession()
	if err != nil {
		return -1, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), err
		}
		return -1, err
	}
}
