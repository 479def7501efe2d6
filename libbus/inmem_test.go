package libbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainscribe/chainscribe/libbus"
	"github.com/stretchr/testify/require"
)

func TestUnit_InMem_Stream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	streamCh := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, "exec.run1.chunks", streamCh)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	message := []byte(`{"chunk":"hello"}`)
	require.NoError(t, ps.Publish(ctx, "exec.run1.chunks", message))

	select {
	case got := <-streamCh:
		require.Equal(t, message, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestUnit_InMem_PublishAfterClose(t *testing.T) {
	ps := libbus.NewInMem()
	require.NoError(t, ps.Close())

	err := ps.Publish(context.Background(), "exec.closed", []byte("data"))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}

func TestUnit_InMem_RequestReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	handler := func(ctx context.Context, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	}
	sub, err := ps.Serve(ctx, "exec.control", handler)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	reply, err := ps.Request(ctx, "exec.control", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("echo:ping"), reply)
}

func TestUnit_InMem_RequestWithoutHandler(t *testing.T) {
	ps := libbus.NewInMem()
	defer ps.Close()

	_, err := ps.Request(context.Background(), "exec.nobody", []byte("anyone?"))
	require.ErrorIs(t, err, libbus.ErrRequestTimeout)
}

func TestUnit_InMem_HandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	wantErr := errors.New("handler exploded")
	sub, err := ps.Serve(ctx, "exec.broken", func(ctx context.Context, data []byte) ([]byte, error) {
		return nil, wantErr
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = ps.Request(ctx, "exec.broken", []byte("boom"))
	require.ErrorIs(t, err, wantErr)
}

func TestUnit_InMem_UnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := libbus.NewInMem()
	defer ps.Close()

	streamCh := make(chan []byte, 1)
	sub, err := ps.Stream(ctx, "exec.run2.chunks", streamCh)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, ps.Publish(ctx, "exec.run2.chunks", []byte("lost")))
	select {
	case <-streamCh:
		t.Fatal("message delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}
