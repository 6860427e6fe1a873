package rock

import (
	"context"
	"net"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-acceptCh
	return client, server
}

func TestConnRequestResponse(t *testing.T) {
	clientNC, serverNC := pipeConns(t)

	server := New(serverNC, Options{
		Handler: func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
			if cmd != 101 {
				return 400, "unknown cmd", nil
			}
			return 200, "", []byte(`{"ok":true}`)
		},
	})
	defer server.Close()

	client := New(clientNC, Options{})
	defer client.Close()

	resp, err := client.Request(context.Background(), 101, []byte(`{"uid":7}`))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Result != 200 {
		t.Fatalf("want result 200, got %d", resp.Result)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
}

func TestConnRequestTimeout(t *testing.T) {
	clientNC, serverNC := pipeConns(t)
	// Server never responds.
	server := New(serverNC, Options{Handler: func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		<-ctx.Done()
		return 0, "", nil
	}})
	defer server.Close()

	client := New(clientNC, Options{})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, 999, nil)
	if err != ErrTimeout {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestConnTeardownCompletesPending(t *testing.T) {
	clientNC, serverNC := pipeConns(t)
	// Server never responds, so the request is still pending at teardown.
	server := New(serverNC, Options{Handler: func(ctx context.Context, cmd uint32, body []byte) (int32, string, []byte) {
		<-ctx.Done()
		return 0, "", nil
	}})
	client := New(clientNC, Options{})
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := client.Request(context.Background(), 1, nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	server.Close()

	select {
	case err := <-done:
		if err != ErrNotConnected {
			t.Fatalf("want ErrNotConnected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("request never completed after peer teardown")
	}
}
