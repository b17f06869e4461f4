package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/gateway"
)

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "List configured specs",
	Long: `List every spec in the configuration with its resolved fields.

Fields are resolved through the extends chain: each column shows the value
of the nearest spec that declares it, "-" when none does.

Examples:
  apikit specs
  apikit specs --config ./apis/github.yaml`,
	Args: cobra.NoArgs,
	RunE: runSpecs,
}

func init() {
	rootCmd.AddCommand(specsCmd)
}

func runSpecs(cmd *cobra.Command, args []string) error {
	reg, cfg, _, err := openRegistry(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer reg.Close()

	out := cmd.OutOrStdout()
	names := reg.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No specs configured.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMETHOD\tURL\tSCOPE\tCHAIN")
	for _, name := range names {
		spec, _ := reg.Spec(name)
		writeSpecRow(w, spec)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%s specs, %s schemas, %s sessions, cache: %s\n",
		humanize.Comma(int64(len(names))),
		humanize.Comma(int64(len(cfg.Schemas))),
		humanize.Comma(int64(len(cfg.Sessions))),
		cfg.Cache.Driver)

	if counter, ok := reg.Cache().(interface {
		Count(ctx context.Context) (int64, error)
	}); ok {
		if n, err := counter.Count(cmd.Context()); err == nil {
			fmt.Fprintf(out, "%s cached responses\n", humanize.Comma(n))
		}
	}
	return nil
}

func writeSpecRow(w io.Writer, spec *gateway.Spec) {
	r := spec.Resolve()

	method := orDash(string(r.Method))
	target := "-"
	if r.URL != "" {
		if u, err := endpoint.ResolveURL(r.BaseURL, r.URL); err == nil {
			target = u
		} else {
			target = "invalid: " + r.URL
		}
	}

	chain := spec.Chain()
	ancestors := make([]string, 0, len(chain)-1)
	for _, s := range chain[1:] {
		ancestors = append(ancestors, s.Name())
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", spec.Name(), method, target, r.Scope, orDash(strings.Join(ancestors, " < ")))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
