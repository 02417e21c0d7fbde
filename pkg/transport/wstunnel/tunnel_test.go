package wstunnel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T, onRequest func(*http.Request)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onRequest != nil {
			onRequest(r)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDial_SendsBearerAuthHeader(t *testing.T) {
	var gotAuth string
	srv := echoServer(t, func(r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	})
	defer srv.Close()

	tun, err := Dial(context.Background(), wsURL(srv.URL), "secret-token")
	require.NoError(t, err)
	defer tun.Close()

	require.Equal(t, "Bearer secret-token", gotAuth)
}

func TestTunnel_WriteThenRead_Roundtrips(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	tun, err := Dial(context.Background(), wsURL(srv.URL), "")
	require.NoError(t, err)
	defer tun.Close()

	payload := []byte("ssh-handshake-bytes")
	n, err := tun.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(tun, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)
}

func TestTunnel_ReadAcrossShortBuffers(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	tun, err := Dial(context.Background(), wsURL(srv.URL), "")
	require.NoError(t, err)
	defer tun.Close()

	_, err = tun.Write([]byte("0123456789"))
	require.NoError(t, err)

	first := make([]byte, 4)
	n, err := tun.Read(first)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(first))

	rest := make([]byte, 6)
	n, err = tun.Read(rest)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "456789", string(rest))
}

func TestTunnel_CloseIsIdempotent(t *testing.T) {
	srv := echoServer(t, nil)
	defer srv.Close()

	tun, err := Dial(context.Background(), wsURL(srv.URL), "")
	require.NoError(t, err)

	require.NoError(t, tun.Close())
	require.NoError(t, tun.Close())
}

func TestTunnel_ServerCloseYieldsEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	tun, err := Dial(context.Background(), wsURL(srv.URL), "")
	require.NoError(t, err)
	defer tun.Close()

	buf := make([]byte, 16)
	_, err = tun.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestTunnel_ZeroValueRejectsReadAndWrite(t *testing.T) {
	var tun Tunnel

	_, err := tun.Read(make([]byte, 4))
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = tun.Write([]byte("x"))
	require.ErrorIs(t, err, ErrNotConnected)
}
