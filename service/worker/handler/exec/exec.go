// Package exec ships the shell execution handler. Commands run through gosh
// sessions cached per host; localhost runs locally and any other host goes
// over ssh with scy-resolved credentials.
package exec

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	rssh "github.com/viant/gosh/runner/ssh"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/worker"
	"github.com/viant/scy/cred/secret"
	"golang.org/x/crypto/ssh"
)

// Kind is the request kind this handler serves.
const Kind = "exec"

// Host identifies where commands run; the zero value targets localhost.
type Host struct {
	URL         string `json:"url,omitempty" description:"host url, e.g. bash://localhost/"`
	Credentials string `json:"credentials,omitempty" description:"scy secret resource with ssh credentials"`
}

// Input shapes an exec request payload.
type Input struct {
	Host         *Host             `json:"host,omitempty" description:"host to execute command on"`
	Workdir      string            `json:"workdir,omitempty" description:"directory where commands start"`
	Env          map[string]string `json:"env,omitempty" description:"environment variables to be set before command runs"`
	Commands     []string          `json:"commands,omitempty" description:"commands to execute on the target system"`
	TimeoutMs    int               `json:"timeoutMs,omitempty" description:"max wait time before timing out a command"`
	AbortOnError *bool             `json:"abortOnError,omitempty" description:"stop after the first command exiting non-zero"`
}

func (i *Input) Init() {
	if i.Host == nil {
		i.Host = &Host{}
	}
	if i.Host.URL == "" {
		i.Host.URL = "bash://localhost/"
	}
}

// Command represents the result of executing a single command
type Command struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Output represents the results of executing commands
type Output struct {
	Commands []*Command `json:"commands,omitempty"`
	Stdout   string     `json:"stdout,omitempty"`
	Stderr   string     `json:"stderr,omitempty"`
	Status   int        `json:"status,omitempty"`
}

// Service executes shell commands for exec requests
type Service struct {
	handler  worker.Handler
	sessions map[string]*sessionInfo
	mux      sync.Mutex
}

type sessionInfo struct {
	service *gosh.Service
}

// New creates the exec handler
func New() *Service {
	s := &Service{sessions: make(map[string]*sessionInfo)}
	s.handler = worker.Typed(Kind, s.execute)
	return s
}

func (s *Service) Kind() string {
	return Kind
}

func (s *Service) InputType() reflect.Type {
	return reflect.TypeOf(Input{})
}

// Handle decodes the payload and runs the commands
func (s *Service) Handle(ctx context.Context, request *model.Request) (*model.Result, error) {
	return s.handler.Handle(ctx, request)
}

func (s *Service) execute(ctx context.Context, input *Input) (*Output, error) {
	input.Init()
	if len(input.Commands) == 0 {
		return nil, fmt.Errorf("commands are required")
	}

	session, err := s.getSession(ctx, input.Host, input.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if input.Workdir != "" {
		if _, _, err := session.service.Run(ctx, fmt.Sprintf("cd %s", input.Workdir)); err != nil {
			return nil, fmt.Errorf("failed to change directory: %w", err)
		}
	}

	abortOnError := true
	if input.AbortOnError != nil {
		abortOnError = *input.AbortOnError
	}
	timeoutDuration := time.Duration(input.TimeoutMs) * time.Millisecond
	if timeoutDuration == 0 {
		timeoutDuration = time.Minute
	}

	output := &Output{}
	var combinedStdout, combinedStderr strings.Builder
	for _, cmd := range input.Commands {
		command := &Command{Input: cmd}
		stdout, stderr, exitCode := s.executeCommand(ctx, session, cmd, timeoutDuration)
		command.Output = stdout
		command.Stderr = stderr
		command.Status = exitCode
		output.Commands = append(output.Commands, command)

		if stdout != "" {
			combinedStdout.WriteString(stdout)
			combinedStdout.WriteString("\n")
		}
		if stderr != "" {
			combinedStderr.WriteString(stderr)
			combinedStderr.WriteString("\n")
		}
		output.Status = exitCode
		if abortOnError && exitCode != 0 {
			break
		}
	}
	output.Stdout = strings.TrimSpace(combinedStdout.String())
	output.Stderr = strings.TrimSpace(combinedStderr.String())
	if abortOnError && output.Status != 0 {
		return nil, fmt.Errorf("command exited with status %d: %s", output.Status, output.Stderr)
	}
	return output, nil
}

// executeCommand runs a single command and returns its output
func (s *Service) executeCommand(ctx context.Context, session *sessionInfo, command string, duration time.Duration) (string, string, int) {
	started := time.Now()
	stdout, status, err := session.service.Run(ctx, command, runner.WithTimeout(int(duration.Milliseconds())))
	elapsed := time.Now().Sub(started)
	if elapsed > duration && err == nil {
		err = fmt.Errorf("command %v timed out after: %s", command, elapsed)
	}
	if status == 0 && err == nil {
		return stdout, "", status
	}
	if stdout == "" && err != nil {
		stdout = err.Error()
	}
	if status == 0 {
		status = 1
	}
	return "", stdout, status
}

// getSession retrieves an existing session or creates a new one
func (s *Service) getSession(ctx context.Context, host *Host, env map[string]string) (*sessionInfo, error) {
	sessionID := host.URL

	s.mux.Lock()
	defer s.mux.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}

	var service *gosh.Service
	var err error

	envOptions := []runner.Option{}
	if len(env) > 0 {
		envOptions = append(envOptions, runner.WithEnvironment(env))
	}
	if url.Host(host.URL) == "localhost" {
		service, err = gosh.New(ctx, local.New(envOptions...))
	} else {
		config, cfgErr := s.getSSHConfig(ctx, host)
		if cfgErr != nil {
			return nil, fmt.Errorf("failed to get SSH config: %w", cfgErr)
		}
		sshHost := url.Host(host.URL)
		if !strings.Contains(sshHost, ":") {
			sshHost += ":22"
		}
		service, err = gosh.New(ctx, rssh.New(sshHost, config, envOptions...))
	}
	if err != nil {
		return nil, err
	}
	session := &sessionInfo{service: service}
	s.sessions[sessionID] = session
	return session, nil
}

// getSSHConfig creates an SSH config from the host's secrets
func (s *Service) getSSHConfig(ctx context.Context, host *Host) (*ssh.ClientConfig, error) {
	credentials := host.Credentials
	if credentials == "" {
		credentials = "localhost"
	}
	secrets := secret.New()
	generic, err := secrets.GetCredentials(ctx, credentials)
	if err != nil {
		return nil, err
	}
	return generic.SSH.Config(ctx)
}

// Close releases all sessions held by this service
func (s *Service) Close(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	var errs []string
	for id, session := range s.sessions {
		if err := session.service.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("failed to close session %s: %v", id, err))
		}
	}
	s.sessions = make(map[string]*sessionInfo)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %s", strings.Join(errs, "; "))
	}
	return nil
}
