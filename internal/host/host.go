// Package host opens command runners for deployment targets.
package host

import (
	"context"
	"fmt"

	"atomdeploy/internal/security"
	"atomdeploy/internal/target"
	"atomdeploy/pkg/cmdutil"
	"atomdeploy/pkg/fileutil"
)

// Open returns a runner for the target's host: local execution for "local",
// SSH otherwise. Commands are restricted to the deployment allowlist.
func Open(ctx context.Context, t *target.Target) (cmdutil.Runner, error) {
	if t.Host.IsLocal() {
		if !fileutil.DirExists(t.Path) {
			return nil, fmt.Errorf("working tree %s does not exist", t.Path)
		}
		return security.NewGuardedRunner(cmdutil.NewLocalRunner()), nil
	}

	runner, err := DialSSH(ctx, SSHConfig{
		User:           t.Host.User,
		Address:        t.Host.Address,
		Port:           t.Host.Port,
		KeyFile:        t.SSHKey,
		KnownHostsFile: t.KnownHosts,
	})
	if err != nil {
		return nil, err
	}
	return security.NewGuardedRunner(runner), nil
}
