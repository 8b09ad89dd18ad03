// Command sender transmits a file to a waiting receiver over UDP,
// governed by the Reno-style congestion controller in pkg/congestion.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/reliabledgram/filexfer/internal/cli"
	"github.com/reliabledgram/filexfer/pkg/congestion"
	"github.com/reliabledgram/filexfer/pkg/segment"
	"github.com/reliabledgram/filexfer/pkg/sender"
	"github.com/reliabledgram/filexfer/pkg/wire"
	"github.com/reliabledgram/filexfer/pkg/xfersock"
)

const (
	defaultRTOMillis = 200
	floorRTOMillis   = 50
	defaultSockBuf   = 1 << 20 // same default as cmd/receiver's --socket-buffer-bytes
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var socketBufferBytes int

	cmd := &cobra.Command{
		Use:   "sender <receiver_ip> <receiver_port> <input_path> <mss_bytes> [rto_ms]",
		Short: "Transmit a file to a receiver over UDP with Reno-style congestion control",
		Args:  cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, logLevel, socketBufferBytes)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn, or error")
	cmd.Flags().IntVar(&socketBufferBytes, "socket-buffer-bytes", defaultSockBuf, "SO_SNDBUF/SO_RCVBUF size requested on the UDP socket")
	return cmd
}

func run(args []string, logLevel string, socketBufferBytes int) error {
	ctx, err := cli.NewLoggingContext(logLevel)
	if err != nil {
		return err
	}
	ctx = dgroup.WithGoroutineName(ctx, "/sender")

	receiverIP := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return errors.Errorf("invalid receiver_port %q", args[1])
	}
	inputPath := args[2]

	mss := wire.MaxMSS
	if v, err := strconv.Atoi(args[3]); err == nil {
		mss = wire.ClampMSS(v)
	} else {
		dlog.Warnf(ctx, "invalid mss_bytes %q, defaulting to %d", args[3], mss)
	}

	rto := defaultRTOMillis
	if len(args) == 5 {
		if v, err := strconv.Atoi(args[4]); err == nil {
			rto = v
		} else {
			dlog.Warnf(ctx, "invalid rto_ms %q, defaulting to %d", args[4], rto)
		}
	}
	if rto < floorRTOMillis {
		rto = floorRTOMillis
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return errors.Wrap(err, "open input file")
	}

	store, err := segment.Build(f, mss)
	closeErr := f.Close()
	if err != nil {
		return errors.Wrap(err, "segment input file")
	}
	if closeErr != nil {
		dlog.Warnf(ctx, "closing input file: %v", closeErr)
	}

	endpoint, err := xfersock.NewUDPSender(ctx, fmt.Sprintf("%s:%d", receiverIP, port), socketBufferBytes)
	if err != nil {
		return errors.Wrap(err, "create sender endpoint")
	}

	cc := congestion.NewController(uint32(mss))
	snd := sender.New(store, cc, endpoint, time.Duration(rto)*time.Millisecond)

	dlog.Infof(ctx, "sender: transferring %s (%d bytes) to %s:%d, mss=%d rto=%dms", inputPath, store.TotalBytes(), receiverIP, port, mss, rto)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  2 * time.Second,
		EnableSignalHandling: true,
		ShutdownOnNonError:   true,
	})

	var stats sender.Stats
	g.Go("transfer", func(c context.Context) error {
		var runErr error
		stats, runErr = snd.Run(c)
		return runErr
	})

	runErr := g.Wait()

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	if err := endpoint.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close sender endpoint"))
	}
	if result != nil {
		dlog.Error(ctx, result)
		return result
	}

	printStats(stats)
	return nil
}

func printStats(s sender.Stats) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "bytes sent:          %d\n", s.TotalBytes)
	fmt.Fprintf(&b, "elapsed:             %s\n", s.Elapsed)
	fmt.Fprintf(&b, "throughput:          %.1f B/s\n", s.ThroughputBps)
	fmt.Fprintf(&b, "timeouts:            %d\n", s.TimeoutCount)
	fmt.Fprintf(&b, "dup-ack retransmits: %d\n", s.DupAckRetransmits)
	fmt.Fprintf(&b, "total retransmits:   %d\n", s.TotalRetransmits)
	fmt.Fprintf(&b, "final cwnd:          %d\n", s.FinalCwnd)
	fmt.Fprintf(&b, "final ssthresh:      %d\n", s.FinalSsthresh)
	fmt.Print(b.String())
}
