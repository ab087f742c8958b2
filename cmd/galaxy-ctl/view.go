// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"

	"github.com/galaxy-foundation/galaxy/lib/netutil"
	"github.com/galaxy-foundation/galaxy/render"
	"github.com/galaxy-foundation/galaxy/session"
)

type viewOptions struct {
	address  string
	state    string
	width    int32
	height   int32
	steps    int
	dx, dy   float32
	interval time.Duration
	settle   time.Duration
}

// frameReport accumulates what arrived for one frame.
type frameReport struct {
	batches     int
	pixels      int
	framebuffer *render.Framebuffer
}

func runView(ctx context.Context, args []string) error {
	var options viewOptions
	flagSet := pflag.NewFlagSet("view", pflag.ContinueOnError)
	flagSet.StringVarP(&options.address, "address", "a", fmt.Sprintf("localhost:%d", session.DefaultPort), "control socket address")
	flagSet.StringVarP(&options.state, "state", "s", "", "state document, resolved on the server (required)")
	flagSet.Int32Var(&options.width, "width", 256, "image width")
	flagSet.Int32Var(&options.height, "height", 256, "image height")
	flagSet.IntVar(&options.steps, "orbit-steps", 0, "cursor motions to send after the first frame")
	flagSet.Float32Var(&options.dx, "orbit-dx", 0.05, "horizontal cursor travel per motion, in normalized units")
	flagSet.Float32Var(&options.dy, "orbit-dy", 0, "vertical cursor travel per motion, in normalized units")
	flagSet.DurationVar(&options.interval, "interval", 100*time.Millisecond, "pause between cursor motions")
	flagSet.DurationVar(&options.settle, "settle", time.Second, "how long to keep reading pixels after the last control message")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if options.state == "" {
		return fmt.Errorf("--state is required")
	}
	if options.width <= 0 || options.height <= 0 {
		return fmt.Errorf("bad image size %dx%d", options.width, options.height)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", options.address)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", options.address, err)
	}
	defer conn.Close()

	reports := make(map[int32]*frameReport)
	readDone := make(chan error, 1)
	go func() { readDone <- readPixels(conn, options, reports) }()

	send := func(control session.Control) error {
		if err := session.WriteControl(conn, control); err != nil {
			return fmt.Errorf("sending %s: %w", control.Op, err)
		}
		return nil
	}
	pause := func(d time.Duration) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readDone:
			return fmt.Errorf("pixel stream ended: %w", err)
		}
	}

	if err := send(session.Control{Op: session.OpStart, Width: options.width, Height: options.height, StateFile: options.state}); err != nil {
		return err
	}
	if options.steps > 0 {
		if err := pause(options.interval); err != nil {
			return err
		}
		if err := send(session.Control{Op: session.OpMouseDown}); err != nil {
			return err
		}
		for step := 1; step <= options.steps; step++ {
			x, y := options.dx*float32(step), options.dy*float32(step)
			if err := send(session.Control{Op: session.OpMouseMotion, X: x, Y: y}); err != nil {
				return err
			}
			if err := pause(options.interval); err != nil {
				return err
			}
		}
	}
	if err := send(session.Control{Op: session.OpDebug}); err != nil {
		return err
	}
	if err := pause(options.settle); err != nil {
		return err
	}
	if err := send(session.Control{Op: session.OpQuit}); err != nil {
		return err
	}
	if err := <-readDone; err != nil && !netutil.IsExpectedCloseError(err) {
		return err
	}

	printReports(reports)
	return nil
}

// readPixels reads pixel batches until the server closes the stream.
func readPixels(conn net.Conn, options viewOptions, reports map[int32]*frameReport) error {
	for {
		frame, pixels, err := session.ReadPixels(conn)
		if err != nil {
			return err
		}
		report, ok := reports[frame]
		if !ok {
			report = &frameReport{framebuffer: render.NewFramebuffer(int(options.width), int(options.height), frame)}
			reports[frame] = report
		}
		report.batches++
		report.pixels += len(pixels)
		report.framebuffer.AddPixels(frame, 0, pixels)
	}
}

func printReports(reports map[int32]*frameReport) {
	frames := make([]int32, 0, len(reports))
	for frame := range reports {
		frames = append(frames, frame)
	}
	slices.Sort(frames)
	fmt.Fprintf(os.Stdout, "%-8s %8s %8s %8s\n", "FRAME", "BATCHES", "PIXELS", "COVERED")
	for _, frame := range frames {
		report := reports[frame]
		fmt.Fprintf(os.Stdout, "%-8d %8d %8d %8d\n", frame, report.batches, report.pixels, covered(report.framebuffer))
	}
}

// covered counts pixels with nonzero opacity.
func covered(framebuffer *render.Framebuffer) int {
	snapshot := framebuffer.Snapshot()
	count := 0
	for i := 3; i < len(snapshot); i += 4 {
		if snapshot[i] != 0 {
			count++
		}
	}
	return count
}
