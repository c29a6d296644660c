// -- cmd/serve.go --
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/browser"
	"github.com/xkilldash9x/spyglass-cli/internal/observability"
	"github.com/xkilldash9x/spyglass-cli/internal/pilot"
	"github.com/xkilldash9x/spyglass-cli/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxCommandBytes bounds one request line; serialized element maps travel in
// responses, so requests stay small.
const maxCommandBytes = 1 << 20

const teardownGracePeriod = 15 * time.Second

// newServeCmd creates the `serve` command: a line-delimited JSON
// request/response loop over stdin/stdout, one command at a time.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the command protocol over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			driver, err := browser.New(cfg.Browser, logger)
			if err != nil {
				return err
			}
			session := pilot.NewSession(driver, logger)
			capturer := snapshot.NewCapturer(logger, cfg.Snapshot.IncludeAttributes)
			dispatcher := pilot.NewDispatcher(session, capturer, cfg.Pilot, cfg.Snapshot, logger)

			defer func() {
				teardownCtx, cancel := context.WithTimeout(context.Background(), teardownGracePeriod)
				defer cancel()
				if err := session.Teardown(teardownCtx); err != nil {
					logger.Warn("Error during session teardown.", zap.Error(err))
				}
			}()

			logger.Info("Serving command protocol on stdin/stdout.")
			return serveLoop(ctx, dispatcher, os.Stdin, os.Stdout, logger)
		},
	}
}

// serveLoop reads one JSON command per line, executes it, and writes one
// JSON result per line. It returns when the input closes or the context is
// cancelled.
func serveLoop(ctx context.Context, dispatcher *pilot.Dispatcher, in io.Reader, out io.Writer, logger *zap.Logger) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	// The reader is deliberately not part of the group: a Scan blocked on a
	// quiet stdin cannot be interrupted, and cancellation must not wait on
	// it. The goroutine winds down once the input closes.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxCommandBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		writer := bufio.NewWriter(out)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case line, ok := <-lines:
				if !ok {
					select {
					case err := <-scanErr:
						return err
					default:
						return nil
					}
				}
				if len(line) == 0 {
					continue
				}

				var req schemas.CommandRequest
				var result schemas.CommandResult
				if err := json.Unmarshal(line, &req); err != nil {
					logger.Warn("Discarding malformed command line.", zap.Error(err))
					result = schemas.Failure("Invalid command payload")
				} else {
					result = dispatcher.Execute(ctx, req)
				}

				encoded, err := json.Marshal(result)
				if err != nil {
					return fmt.Errorf("failed to encode result: %w", err)
				}
				if _, err := writer.Write(append(encoded, '\n')); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
				if err := writer.Flush(); err != nil {
					return fmt.Errorf("failed to flush result: %w", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}
