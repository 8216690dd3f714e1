package executor

import "context"

// Executor runs a shell command on a named remote host and returns the
// captured output as lines. A non-nil error means the transport failed;
// whatever the command wrote to stderr is returned, not judged.
type Executor interface {
	Run(ctx context.Context, host, script string) (stdoutLines, stderrLines []string, err error)
}

// DirectorySync copies directory trees between the local machine and a host.
type DirectorySync interface {
	// Pull copies the contents of remoteDir on host into localDir.
	Pull(ctx context.Context, host, remoteDir, localDir string) error
	// Push copies the contents of localDir into remoteDir on host.
	Push(ctx context.Context, host, localDir, remoteDir string) error
}
