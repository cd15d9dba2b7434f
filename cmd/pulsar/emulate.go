package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/emulator"
	"github.com/oriys/nova-ric/internal/launcher"
	"github.com/oriys/nova-ric/internal/output"
)

func emulateCmd() *cobra.Command {
	var (
		addr      string
		eventPath string
		count     int
		timeout   time.Duration
		format    string
	)

	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Run a handler against a local runtime API",
		Long: "Starts a local runtime API and serves the handler from it. With --event the payload is " +
			"invoked and the result printed; otherwise the emulator keeps serving " +
			"POST /2015-03-31/functions/<name>/invocations until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Emulator.Addr = addr
			}
			if timeout > 0 {
				cfg.Emulator.Timeout = timeout
			}
			if cfg.Runtime.Handler == "" {
				return errors.New("handler is not set")
			}

			var invoke func(context.Context, *emulator.Server) error
			if eventPath != "" {
				payload, err := readEvent(cmd.InOrStdin(), eventPath)
				if err != nil {
					return err
				}
				printer := output.NewPrinter(output.ParseFormat(format), cmd.OutOrStdout())
				invoke = func(ctx context.Context, srv *emulator.Server) error {
					for i := 0; i < count; i++ {
						res, err := srv.Invoke(ctx, emulator.Request{Payload: payload})
						if err != nil {
							return err
						}
						if err := printer.PrintInvokeResult(invokeResult(res)); err != nil {
							return err
						}
					}
					return nil
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := launcher.Setup(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			return p.Emulate(ctx, builtinRegistry(), invoke)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Emulator listen address")
	cmd.Flags().StringVar(&eventPath, "event", "", "Event file to invoke, - for stdin")
	cmd.Flags().IntVar(&count, "count", 1, "Number of invocations of --event")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Invocation timeout")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "Result format: text, json or yaml")
	return cmd
}

func readEvent(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func invokeResult(res *emulator.Result) output.InvokeResult {
	return output.InvokeResult{
		RequestID:  res.RequestID,
		Success:    !res.Failed(),
		ErrorType:  res.ErrorType,
		Streamed:   res.Streamed,
		DurationMs: res.Duration.Milliseconds(),
		Output:     string(res.Payload),
	}
}
