// Command uzavm runs a compiled bytecode image. It owns everything the core
// vm package deliberately stays out of: argument parsing, structured
// logging, signal handling, and the process exit code.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mlang-dev/uzavm/vm"
)

var (
	stackMax  int
	framesMax int
	heapMin   int64
	debug     bool
)

func main() {
	root := &cobra.Command{
		Use:   "uzavm <byte-count> <path>",
		Short: "Run a uza bytecode image",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}

	root.Flags().IntVar(&stackMax, "stack-max", vm.DefaultStackMax, "operand stack capacity, in slots")
	root.Flags().IntVar(&framesMax, "frames-max", vm.DefaultFramesMax, "max call-frame depth")
	root.Flags().Int64Var(&heapMin, "heap-min", 0, "GC threshold floor, in bytes (0 uses the VM default)")
	root.Flags().BoolVar(&debug, "debug", false, "lower the host log level to debug")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	byteCount, path := args[0], args[1]
	n, err := parseByteCount(byteCount)
	if err != nil {
		return errors.Wrap(err, "parsing byte count")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to read bytecode image")
		os.Exit(1)
	}
	if len(data) != n {
		logger.Error().Int("declared", n).Int("actual", len(data)).Msg("byte count does not match file size")
		os.Exit(1)
	}

	machine := vm.New(vm.Options{
		StackMax:  stackMax,
		FramesMax: framesMax,
		HeapMin:   heapMin,
	})
	logger.Info().Str("run_id", machine.ID.String()).Str("path", path).Int("bytes", n).Msg("starting uzavm")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Warn().Msg("interrupt received, stopping at next instruction boundary")
		machine.Interrupt()
	}()

	code := machine.Run(data)
	if rerr := machine.Err(); rerr != nil {
		logger.Error().Err(rerr).Int("kind", int(rerr.Kind)).Int("line", rerr.Line).Msg("run failed")
	} else {
		logger.Info().Str("run_id", machine.ID.String()).Msg("run complete")
	}
	os.Exit(code)
	return nil
}

func parseByteCount(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("byte count must be non-negative")
	}
	return n, nil
}
