package sshsftp

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	output  []byte
	err     error
	closed  bool
	lastCmd string
}

func (f *fakeSession) Run(cmd string) error { f.lastCmd = cmd; return f.err }

func (f *fakeSession) CombinedOutput(cmd string) ([]byte, error) {
	f.lastCmd = cmd
	return f.output, f.err
}

func (f *fakeSession) Close() error { f.closed = true; return nil }

type fakeConn struct {
	session *fakeSession
	newErr  error
	closed  bool
}

func (f *fakeConn) NewSession() (sshSession, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	return f.session, nil
}

func (f *fakeConn) Close() error { f.closed = true; return nil }

func TestSession_Run_ReturnsOutputOnSuccess(t *testing.T) {
	conn := &fakeConn{session: &fakeSession{output: []byte("hello\n")}}
	s := &Session{conn: conn}

	result, err := s.Run("echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Output)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "echo hello", conn.session.lastCmd)
	assert.True(t, conn.session.closed, "session must be closed after Run")
}

func TestSession_Run_PropagatesNewSessionError(t *testing.T) {
	conn := &fakeConn{newErr: errors.New("channel rejected")}
	s := &Session{conn: conn}

	_, err := s.Run("pwd")
	require.Error(t, err)
}

func TestSession_Close_ClosesConnAndUnderlying(t *testing.T) {
	conn := &fakeConn{session: &fakeSession{}}
	a, b := net.Pipe()
	defer b.Close()
	s := &Session{conn: conn, underly: a}

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
	_, err := a.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe, "underlying conn must be closed")
}
