package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/trace"
)

// activeTracer is dumped by dumpTraceOnPanic.
var activeTracer trace.Tracer = trace.Nop

// setupTracing merges the trace section of cfg with the trace flags and
// attaches the tracer to the command context. It returns a cleanup function.
func setupTracing(cmd *cobra.Command, cfg config.Config) (func(), error) {
	tc, err := cfg.TraceConfig()
	if err != nil {
		return nil, err
	}
	flags := cmd.Root().PersistentFlags()

	if flags.Changed("trace") {
		if tc.OutputPath, err = flags.GetString("trace"); err != nil {
			return nil, fmt.Errorf("failed to get trace flag: %w", err)
		}
		// файл трассы без явного уровня: пишем шаги потоком
		if tc.Level == trace.LevelOff && !flags.Changed("trace-level") {
			tc.Level = trace.LevelStep
		}
		if !flags.Changed("trace-mode") {
			tc.Mode = trace.ModeStream
		}
	}
	if flags.Changed("trace-level") {
		levelStr, err := flags.GetString("trace-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
		}
		if tc.Level, err = trace.ParseLevel(levelStr); err != nil {
			return nil, fmt.Errorf("invalid trace level: %w", err)
		}
	}
	if flags.Changed("trace-mode") {
		modeStr, err := flags.GetString("trace-mode")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
		}
		if tc.Mode, err = trace.ParseMode(modeStr); err != nil {
			return nil, fmt.Errorf("invalid trace mode: %w", err)
		}
	}
	if flags.Changed("trace-ring-size") {
		if tc.RingSize, err = flags.GetInt("trace-ring-size"); err != nil {
			return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
	}
	if flags.Changed("trace-heartbeat") {
		if tc.Heartbeat, err = flags.GetDuration("trace-heartbeat"); err != nil {
			return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
		}
	}

	if tc.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	tracer, err := trace.New(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	activeTracer = tracer
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	var heartbeat *trace.Heartbeat
	if tc.Heartbeat > 0 {
		heartbeat = trace.StartHeartbeat(tracer, tc.Heartbeat)
	}

	cleanup := func() {
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
		activeTracer = trace.Nop
	}
	return cleanup, nil
}

// dumpTraceOnPanic prints the ring buffer, if any, before the panic
// continues unwinding.
func dumpTraceOnPanic() {
	r := recover()
	if r == nil {
		return
	}
	var ring *trace.RingTracer
	switch t := activeTracer.(type) {
	case *trace.RingTracer:
		ring = t
	case *trace.MultiTracer:
		ring, _ = t.Ring()
	}
	if ring != nil {
		fmt.Fprintln(os.Stderr, "loom: panic, last trace events:")
		_ = ring.Dump(os.Stderr, trace.FormatText)
	}
	panic(r)
}
