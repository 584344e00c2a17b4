package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendRoundTrip(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			require.Equal(t, "status", req.Command)
			return Response{OK: true, State: "listening", Message: "ok"}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "listening", resp.State)
	require.Equal(t, "ok", resp.Message)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestSendDecodeResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		_, _ = reader.ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendReadResponseError(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		_ = conn.Close()
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "read response")
}

func TestServeDecodeRequestErrorResponse(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, _ Request) Response {
			return Response{OK: true}
		}))
	}()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	cancel()
	require.NoError(t, <-serveDone)
}

func TestProbe(t *testing.T) {
	runtimeDir := t.TempDir()
	socketPath := filepath.Join(runtimeDir, "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == "status" {
				return Response{OK: true, State: "idle"}
			}
			return Response{OK: false, Error: "bad"}
		}))
	}()

	alive, probeErr := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, probeErr)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-serveDone)

	alive, probeErr = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, probeErr)
	require.False(t, alive)
}

func TestSendCarriesArgsAndSnapshot(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			return Response{
				OK:       true,
				State:    "idle",
				Language: req.Args[0],
				Actions:  []ActionView{{ID: "glucose-reminder", Label: "Set a reminder", Type: "reminder"}},
			}
		}))
	}()

	resp, err := Send(context.Background(), socketPath, Request{Command: "language", Args: []string{"hi-IN"}}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "hi-IN", resp.Language)
	require.Equal(t, []ActionView{{ID: "glucose-reminder", Label: "Set a reminder", Type: "reminder"}}, resp.Actions)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestForwardReportsHandledAndRejected(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			if req.Command == "status" {
				return Response{OK: true, State: "idle"}
			}
			return Response{OK: false, State: "idle", Error: "unknown command: " + req.Command}
		}))
	}()

	resp, handled, err := Forward(context.Background(), socketPath, Request{Command: "status"}, time.Second)
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "idle", resp.State)

	resp, handled, err = Forward(context.Background(), socketPath, Request{Command: "dance"}, time.Second)
	require.True(t, handled)
	require.EqualError(t, err, "unknown command: dance")
	require.Equal(t, "idle", resp.State)

	cancel()
	require.NoError(t, <-serveDone)

	_, handled, err = Forward(context.Background(), socketPath, Request{Command: "status"}, time.Second)
	require.False(t, handled)
	require.NoError(t, err)
}

func TestServeRejectsOversizedRequest(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "healthmate.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true}
		}))
	}()

	big := make([]string, 0, 4096)
	for range 4096 {
		big = append(big, "sugar")
	}
	resp, err := Send(context.Background(), socketPath, Request{Command: "ask", Args: big}, time.Second)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Equal(t, "request too large", resp.Error)

	cancel()
	require.NoError(t, <-serveDone)
}

func TestIsUnreachable(t *testing.T) {
	require.False(t, IsUnreachable(nil))
	require.True(t, IsUnreachable(os.ErrNotExist))
	require.True(t, IsUnreachable(errors.New("dial unix /tmp/healthmate.sock: no such file or directory")))
	require.True(t, IsUnreachable(syscall.ECONNREFUSED))
	require.False(t, IsUnreachable(errors.New("other error")))
}
