package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/eventloop"
	"github.com/oriys/nova-ric/internal/handler"
	"github.com/oriys/nova-ric/internal/invoke"
	"github.com/oriys/nova-ric/internal/output"
	"github.com/oriys/nova-ric/internal/rterror"
	"github.com/oriys/nova-ric/internal/streaming"
)

type greeting struct {
	Name string `json:"name"`
}

type tickRequest struct {
	Count   int `json:"count"`
	DelayMs int `json:"delayMs"`
}

// builtinRegistry holds the handlers compiled into the pulsar binary.
func builtinRegistry() *handler.Registry {
	reg := handler.NewRegistry()

	reg.RegisterBuffered("index", "handler", handler.AsyncFunc(func(_ context.Context, event json.RawMessage) (json.RawMessage, error) {
		return event, nil
	}))

	reg.RegisterBuffered("index", "hello", handler.Func(func(ctx context.Context, in greeting) (map[string]string, error) {
		ictx, _ := invoke.FromContext(ctx)
		if in.Name == "" {
			return nil, rterror.New("Greeting.MissingName", "name is required")
		}
		out := map[string]string{"message": "Hello, " + in.Name}
		if ictx != nil {
			out["requestId"] = ictx.AwsRequestID
		}
		return out, nil
	}))

	reg.RegisterBuffered("index", "context", func(_ json.RawMessage, ictx *invoke.Context, _ invoke.Callback) (*eventloop.Future, error) {
		return ictx.Loop().Resolved(map[string]any{
			"awsRequestId":       ictx.AwsRequestID,
			"invokedFunctionArn": ictx.InvokedFunctionArn,
			"functionName":       ictx.FunctionName,
			"remainingTimeMs":    ictx.RemainingTimeInMillis(),
			"tenantId":           ictx.TenantID,
		}), nil
	})

	reg.RegisterStreaming("index", "stream", handler.StreamFunc(func(ctx context.Context, in tickRequest, w io.Writer) error {
		if in.Count <= 0 {
			in.Count = 5
		}
		for i := 1; i <= in.Count; i++ {
			if _, err := fmt.Fprintf(w, "tick %d\n", i); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(in.DelayMs) * time.Millisecond):
			}
		}
		return nil
	}), 0)

	reg.RegisterStreaming("index", "page", func(event json.RawMessage, w streaming.Writer, ictx *invoke.Context) *eventloop.Future {
		var in greeting
		_ = json.Unmarshal(event, &in)
		hw, err := streaming.NewHTTPResponseStream(w, streaming.HTTPResponseMetadata{
			StatusCode: 200,
			Headers:    map[string]string{"Content-Type": "text/html"},
		})
		if err != nil {
			return ictx.Loop().Rejected(err)
		}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = "world"
		}
		_, _ = hw.Write("<h1>Hello, " + name + "</h1>")
		done, resolve, reject := ictx.Loop().NewFuture()
		if err := hw.End(func(err error) {
			if err != nil {
				reject(err)
				return
			}
			resolve(nil)
		}); err != nil {
			return ictx.Loop().Rejected(err)
		}
		return done
	}, 0)

	return reg
}

func handlersCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "handlers",
		Short: "List the built-in handlers",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := builtinRegistry()
			var rows []output.HandlerRow
			for _, d := range reg.Descriptors() {
				h, err := reg.Resolve("", d)
				if err != nil {
					return err
				}
				mode := "buffered"
				if h.IsStreaming() {
					mode = "streaming"
				}
				rows = append(rows, output.HandlerRow{Descriptor: d, Mode: mode})
			}
			return output.NewPrinter(output.ParseFormat(format), cmd.OutOrStdout()).PrintHandlers(rows)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}
