// Command receiver listens for a single sender and reassembles its
// transfer in order, optionally simulating datagram loss.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/reliabledgram/filexfer/internal/cli"
	"github.com/reliabledgram/filexfer/pkg/loss"
	"github.com/reliabledgram/filexfer/pkg/receiver"
	"github.com/reliabledgram/filexfer/pkg/xfersock"
)

const defaultSockBuf = 1 << 20

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var socketBufferBytes int

	cmd := &cobra.Command{
		Use:   "receiver <listen_port> <output_path|-> [loss_probability] [forced_drop_seq]",
		Short: "Receive a file over UDP, reassembling it in order",
		Args:  cobra.RangeArgs(2, 4),
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
	ctx = dgroup.WithGoroutineName(ctx, "/receiver")

	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return errors.Errorf("invalid listen_port %q", args[0])
	}
	outputPath := args[1]

	lossProb := 0.0
	if len(args) >= 3 {
		if v, err := strconv.ParseFloat(args[2], 64); err == nil {
			lossProb = v
		}
	}

	var dropper loss.Dropper = loss.None{}
	if len(args) == 4 {
		seq, err := strconv.ParseUint(args[3], 10, 32)
		if err != nil {
			return errors.Errorf("invalid forced_drop_seq %q", args[3])
		}
		dropper = loss.NewForced(uint32(seq))
	} else if lossProb > 0 {
		dropper = loss.NewProbabilistic(lossProb, rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	var sink io.Writer
	var outFile *os.File
	if outputPath == "-" {
		sink = io.Discard
	} else {
		outFile, err = os.Create(outputPath)
		if err != nil {
			return errors.Wrap(err, "create output file")
		}
		sink = outFile
	}

	endpoint, err := xfersock.NewUDPReceiver(ctx, fmt.Sprintf(":%d", port), socketBufferBytes)
	if err != nil {
		return errors.Wrap(err, "create receiver endpoint")
	}

	rcv := receiver.New(endpoint, dropper, sink)

	dlog.Infof(ctx, "receiver: listening on port %d, output=%s", port, outputPath)

	g := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  2 * time.Second,
		EnableSignalHandling: true,
		ShutdownOnNonError:   true,
	})

	var stats receiver.Stats
	g.Go("receive", func(c context.Context) error {
		var runErr error
		stats, runErr = rcv.Run(c)
		return runErr
	})

	runErr := g.Wait()

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	if err := endpoint.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close receiver endpoint"))
	}
	if outFile != nil {
		if err := outFile.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close output file"))
		}
	}
	if result != nil {
		dlog.Error(ctx, result)
		return result
	}

	printStats(stats)
	return nil
}

func printStats(s receiver.Stats) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "total packets:      %d\n", s.TotalPackets)
	fmt.Fprintf(&b, "dropped packets:    %d\n", s.DroppedPackets)
	fmt.Fprintf(&b, "out-of-order:       %d\n", s.OutOfOrderPackets)
	fmt.Fprintf(&b, "bytes delivered:    %d\n", s.TotalBytes)
	fmt.Print(b.String())
}
