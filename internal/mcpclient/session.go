package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vendorportal/report-gateway/internal/protocol"
)

type state int

const (
	stateSpawned state = iota
	stateInitializing
	stateReady
	stateInvoking
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateSpawned:
		return "spawned"
	case stateInitializing:
		return "initializing"
	case stateReady:
		return "ready"
	case stateInvoking:
		return "invoking"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// session is one live server process. It is owned by a single Invoke call and
// never shared; requests are strictly one at a time.
type session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	closed chan struct{}
	stderr *stderrTail

	readErr error // written by readLoop before lines is closed
	nextID  int64
	state   state
	exitErr error
}

func startSession(name string, args, env []string, stderrLines int, waitDelay time.Duration) (*session, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = env
	cmd.WaitDelay = waitDelay

	tail := newStderrTail(stderrLines)
	cmd.Stderr = tail

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte),
		closed: make(chan struct{}),
		stderr: tail,
		state:  stateSpawned,
	}
	go s.readLoop(stdout)
	return s, nil
}

func (s *session) pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *session) readLoop(stdout io.Reader) {
	defer close(s.lines)

	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if err == nil || len(bytes.TrimSpace(line)) > 0 {
			select {
			case s.lines <- line:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			s.readErr = err
			return
		}
	}
}

// handshake sends initialize, reads its response and sends the initialized notification.
func (s *session) handshake(ctx context.Context, params protocol.InitializeParams) error {
	if s.state != stateSpawned {
		return fmt.Errorf("handshake in state %s", s.state)
	}
	s.state = stateInitializing

	resp, err := s.roundTrip(ctx, "initialize", params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &TransportError{
			Kind: KindHandshakeFailed,
			Op:   "initialize",
			Err:  &RemoteToolError{Code: resp.Error.Code, Message: resp.Error.Message},
		}
	}

	if err := s.write("notifications/initialized", protocol.Notification{
		JSONRPC: protocol.Version,
		Method:  "notifications/initialized",
	}); err != nil {
		return err
	}
	s.state = stateReady
	return nil
}

// call issues one request on a ready session and returns its raw result.
func (s *session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.state != stateReady {
		return nil, fmt.Errorf("%s in state %s", method, s.state)
	}
	s.state = stateInvoking

	resp, err := s.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	s.state = stateReady

	if resp.Error != nil {
		return nil, &RemoteToolError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

func (s *session) roundTrip(ctx context.Context, method string, params any) (protocol.RawResponse, error) {
	var resp protocol.RawResponse

	raw, err := json.Marshal(params)
	if err != nil {
		return resp, fmt.Errorf("encode %s params: %w", method, err)
	}
	s.nextID++
	id := s.nextID
	req := protocol.Request{JSONRPC: protocol.Version, ID: id, Method: method, Params: raw}
	if err := s.write(method, req); err != nil {
		return resp, err
	}

	for {
		line, err := s.readLine(ctx, method)
		if err != nil {
			return resp, err
		}
		resp = protocol.RawResponse{}
		if err := json.Unmarshal(line, &resp); err != nil {
			return resp, s.transportError(KindMalformedResponse, method, fmt.Errorf("decode response: %w", err))
		}
		// Server-initiated notifications carry no id.
		if !isNotification(resp) {
			break
		}
	}
	if got := strings.Trim(string(bytes.TrimSpace(resp.ID)), `"`); got != strconv.FormatInt(id, 10) {
		return resp, s.transportError(KindMalformedResponse, method, fmt.Errorf("response id %s does not match request id %d", got, id))
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return resp, s.transportError(KindMalformedResponse, method, errors.New("response carries neither result nor error"))
	}
	return resp, nil
}

func isNotification(resp protocol.RawResponse) bool {
	id := bytes.TrimSpace(resp.ID)
	return (len(id) == 0 || string(id) == "null") && resp.Error == nil && len(resp.Result) == 0
}

func (s *session) write(op string, msg any) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	buf = append(buf, '\n')
	if _, err := s.stdin.Write(buf); err != nil {
		return s.transportError(KindStreamClosed, op, err)
	}
	return nil
}

func (s *session) readLine(ctx context.Context, op string) ([]byte, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			err := s.readErr
			if err == nil || errors.Is(err, io.EOF) {
				err = errors.New("server closed stdout before responding")
			}
			return nil, s.transportError(KindStreamClosed, op, err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return nil, s.transportError(KindMalformedResponse, op, errors.New("empty response line"))
		}
		return line, nil
	case <-ctx.Done():
		te := contextError(ctx, op)
		te.Stderr = s.stderr.Tail(5)
		return nil, te
	}
}

func (s *session) transportError(kind Kind, op string, err error) *TransportError {
	return &TransportError{Kind: kind, Op: op, Err: err, Stderr: s.stderr.Tail(5)}
}

// terminate closes stdin, sends SIGTERM and escalates to SIGKILL after timeout.
// The process is always reaped before terminate returns.
func (s *session) terminate(timeout time.Duration) {
	if s.state == stateTerminated {
		return
	}
	s.state = stateTerminated
	close(s.closed)
	_ = s.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		s.exitErr = err
	case <-timer.C:
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		s.exitErr = <-done
	}
}
