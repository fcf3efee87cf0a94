package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"simfleet/logging"
	"simfleet/model"
	"simfleet/ssh"
)

// RemoteExecutor executes commands on a node through its own SSH connection
type RemoteExecutor struct {
	client *ssh.Client
	log    *logging.CommandLog
}

// NewRemoteExecutor creates an executor over an already connected client
func NewRemoteExecutor(client *ssh.Client, log *logging.CommandLog) *RemoteExecutor {
	if log == nil {
		log = logging.NewCommandLog("remote", client.Config().Host)
	}
	return &RemoteExecutor{
		client: client,
		log:    log,
	}
}

func (e *RemoteExecutor) Address() string { return e.client.Config().Host }

func (e *RemoteExecutor) Log() *logging.CommandLog { return e.log }

// Execute runs a command on the remote node
func (e *RemoteExecutor) Execute(ctx context.Context, command string) (string, error) {
	return execute(ctx, e.log, command, e.Capture)
}

func (e *RemoteExecutor) Capture(ctx context.Context, command string) (*Result, error) {
	e.log.LogCommand(command)
	result, err := e.client.Run(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("remote command execution failed on %s: %w", e.Address(), err)
	}
	e.log.LogOutput(result.Output, result.ExitCode)
	return &Result{Status: result.ExitCode, Output: result.Output}, nil
}

func (e *RemoteExecutor) Stream(ctx context.Context, command string, progress func(string)) (string, error) {
	e.log.LogCommand(command)
	result, err := e.client.Stream(ctx, command, func(chunk []byte) {
		if progress != nil {
			progress(string(chunk))
		}
	})
	if err != nil {
		return "", fmt.Errorf("remote command execution failed on %s: %w", e.Address(), err)
	}
	e.log.LogOutput(result.Output, result.ExitCode)
	return result.Output, nil
}

func (e *RemoteExecutor) Upload(ctx context.Context, data []byte, remotePath string) error {
	e.log.LogCommand("upload " + remotePath)
	return e.client.Upload(ctx, data, remotePath)
}

func (e *RemoteExecutor) Download(ctx context.Context, remotePath string) ([]byte, error) {
	e.log.LogCommand("download " + remotePath)
	return e.client.Download(ctx, remotePath)
}

// Clone connects a second client with the same configuration.
func (e *RemoteExecutor) Clone(ctx context.Context) (Executor, error) {
	cfg := *e.client.Config()
	client := ssh.NewClient(&cfg)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return NewRemoteExecutor(client, e.log), nil
}

func (e *RemoteExecutor) Terminate() {
	_ = e.client.Close()
}

// Options tune how Dial reaches a node.
type Options struct {
	ConnectTimeout time.Duration

	// ForceLocal runs every node through the local shell.
	ForceLocal bool
}

// Dial opens an executor for node. Local addresses use the local shell; all
// others get a fresh SSH connection.
func Dial(ctx context.Context, node model.Node, log *logging.CommandLog, opts Options) (Executor, error) {
	if log == nil {
		log = logging.NewCommandLog(node.Name, node.Address)
	}
	if opts.ForceLocal || node.IsLocal() {
		return NewLocalExecutor(log), nil
	}

	password := node.Password
	if password == "" && node.PasswordEnv != "" {
		password = os.Getenv(node.PasswordEnv)
	}
	log.AddBlackList(password)
	log.AddBlackList(node.AdministratorPassword)

	client := ssh.NewClient(&ssh.Config{
		Host:           node.Address,
		Port:           node.Port,
		User:           node.User,
		KeyPath:        node.KeyPath,
		Password:       password,
		ConnectTimeout: opts.ConnectTimeout,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, logging.NewOperationError(fmt.Sprintf("failed to connect to %s (%s)", node.Name, node.Address), log, err)
	}
	return NewRemoteExecutor(client, log), nil
}
