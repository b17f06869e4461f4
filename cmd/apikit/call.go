package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/artpar/apikit/gateway"
)

var (
	callData    string
	callTimeout time.Duration
	callVerbose bool
)

var callCmd = &cobra.Command{
	Use:   "call <spec> [json]",
	Short: "Call a spec with a JSON value",
	Long: `Call a configured spec and print the adapted response as JSON.

The value is taken from the second argument, --data, or stdin when either
is "-". Without a value the request carries no payload.

Examples:
  apikit call list_users
  apikit call create_user '{"name":"ada"}'
  echo '{"name":"ada"}' | apikit call create_user -
  apikit call create_user -v --data @user.json

With metrics.enabled, -v also prints the collected metrics after the call.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON value, '-' for stdin or @file")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "overall deadline for the call")
	callCmd.Flags().BoolVarP(&callVerbose, "verbose", "v", false, "print request and response summary to stderr")
}

func runCall(cmd *cobra.Command, args []string) error {
	raw := callData
	if len(args) == 2 {
		raw = args[1]
	}
	value, err := parseValue(raw, cmd.InOrStdin())
	if err != nil {
		return err
	}

	gatherer := prometheus.NewRegistry()
	reg, _, _, err := openRegistry(gatherer)
	if err != nil {
		return err
	}
	defer reg.Close()
	if callVerbose && reg.Metrics() != nil {
		defer writeMetrics(cmd.ErrOrStderr(), gatherer)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}

	g, err := reg.Gateway(ctx, args[0])
	if err != nil {
		return err
	}

	out, err := invoke(ctx, g, value, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// invoke runs the gateway pipeline step by step so verbose mode can report
// what went over the wire.
func invoke(ctx context.Context, g *gateway.Gateway, value any, stderr io.Writer) (any, error) {
	if !callVerbose {
		return g.Call(ctx, value)
	}

	req, err := g.Prepare(ctx, value)
	if err != nil {
		return nil, err
	}
	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	fmt.Fprintf(stderr, "> %s %s (%s)\n", req.Method, target, humanize.Bytes(uint64(len(req.Body))))

	start := time.Now()
	resp, err := g.Egress(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "< failed after %s\n", time.Since(start).Round(time.Millisecond))
		return nil, err
	}
	fmt.Fprintf(stderr, "< %d in %s (%s)\n", resp.Status, time.Since(start).Round(time.Millisecond), humanize.Bytes(uint64(len(resp.Body))))

	return g.Ingress(ctx, resp)
}

// parseValue decodes a JSON value given inline, as "-" for stdin or as
// @path for a file. An empty string yields nil.
func parseValue(raw string, stdin io.Reader) (any, error) {
	var data []byte
	switch {
	case raw == "":
		return nil, nil
	case raw == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case strings.HasPrefix(raw, "@"):
		b, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("read value: %w", err)
		}
		data = b
	default:
		data = []byte(raw)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("value is not valid JSON: %w", err)
	}
	return v, nil
}
