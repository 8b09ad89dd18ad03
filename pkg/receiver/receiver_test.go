package receiver

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliabledgram/filexfer/pkg/loss"
	"github.com/reliabledgram/filexfer/pkg/wire"
	"github.com/reliabledgram/filexfer/pkg/xfersock"
)

func TestReceiverAcceptsInOrderAndAcksThenFIN(t *testing.T) {
	sender, peer := xfersock.NewPipe(8)
	defer sender.Close()
	defer peer.Close()

	var out bytes.Buffer
	r := New(peer, loss.None{}, &out)

	done := make(chan struct{})
	var gotStats Stats
	var runErr error
	go func() {
		gotStats, runErr = r.Run(context.Background())
		close(done)
	}()

	data := wire.DataFrame{Seq: 0, Payload: []byte("hello")}
	require.NoError(t, sender.Send(data.Encode(nil)))
	readAck(t, sender)

	fin := wire.DataFrame{Seq: 5, Flags: wire.FIN}
	require.NoError(t, sender.Send(fin.Encode(nil)))
	readAck(t, sender)

	<-done
	require.NoError(t, runErr)
	assert.Equal(t, "hello", out.String())
	assert.Equal(t, uint32(5), gotStats.TotalBytes)
	assert.Equal(t, uint32(2), gotStats.TotalPackets)
	assert.Equal(t, uint32(0), gotStats.OutOfOrderPackets)
}

func TestReceiverCountsOutOfOrderWithoutBuffering(t *testing.T) {
	sender, peer := xfersock.NewPipe(8)
	defer sender.Close()
	defer peer.Close()

	var out bytes.Buffer
	r := New(peer, loss.None{}, &out)

	done := make(chan struct{})
	var gotStats Stats
	go func() {
		gotStats, _ = r.Run(context.Background())
		close(done)
	}()

	ahead := wire.DataFrame{Seq: 10, Payload: []byte("later")}
	require.NoError(t, sender.Send(ahead.Encode(nil)))
	ack := readAck(t, sender)
	assert.Equal(t, uint32(0), ack.Ack)

	inOrder := wire.DataFrame{Seq: 0, Payload: []byte("first")}
	require.NoError(t, sender.Send(inOrder.Encode(nil)))
	ack = readAck(t, sender)
	assert.Equal(t, uint32(5), ack.Ack)

	fin := wire.DataFrame{Seq: 5, Flags: wire.FIN}
	require.NoError(t, sender.Send(fin.Encode(nil)))
	readAck(t, sender)

	<-done
	assert.Equal(t, "first", out.String())
	assert.Equal(t, uint32(1), gotStats.OutOfOrderPackets)
}

func TestReceiverForcedDropStillAcksCurrentExpected(t *testing.T) {
	sender, peer := xfersock.NewPipe(8)
	defer sender.Close()
	defer peer.Close()

	var out bytes.Buffer
	r := New(peer, loss.NewForced(0), &out)

	done := make(chan struct{})
	var gotStats Stats
	go func() {
		gotStats, _ = r.Run(context.Background())
		close(done)
	}()

	dropped := wire.DataFrame{Seq: 0, Payload: []byte("gone")}
	require.NoError(t, sender.Send(dropped.Encode(nil)))
	ack := readAck(t, sender)
	assert.Equal(t, uint32(0), ack.Ack)

	fin := wire.DataFrame{Seq: 0, Flags: wire.FIN}
	require.NoError(t, sender.Send(fin.Encode(nil)))
	readAck(t, sender)

	<-done
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, uint32(1), gotStats.DroppedPackets)
}

func TestReceiverDiscardsMalformedDatagram(t *testing.T) {
	sender, peer := xfersock.NewPipe(8)
	defer sender.Close()
	defer peer.Close()

	var out bytes.Buffer
	r := New(peer, loss.None{}, &out)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	require.NoError(t, sender.Send([]byte{1, 2, 3}))

	good := wire.DataFrame{Seq: 0, Flags: wire.FIN}
	require.NoError(t, sender.Send(good.Encode(nil)))
	ack := readAck(t, sender)
	assert.Equal(t, uint32(0), ack.Ack)

	<-done
}

func readAck(t *testing.T, ep xfersock.Endpoint) wire.AckFrame {
	t.Helper()
	buf := make([]byte, wire.AckLen)
	n, outcome, err := ep.Receive(context.Background(), buf, 0)
	require.NoError(t, err)
	require.Equal(t, xfersock.ReceivedData, outcome)
	f, ok := wire.DecodeAckFrame(buf[:n])
	require.True(t, ok)
	return f
}
