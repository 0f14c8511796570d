package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/baxromumarov/telemetry-relay/internal/feed"
	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("normalize: %v", err)
	}
}

// run reads a batch (a JSON array or a {"data": [...]} envelope) from the
// file argument or stdin and writes the normalized array to stdout.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("normalize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	strict := fs.Bool("strict", false, "Fail if any value had to be substituted")
	twoPass := fs.Bool("two-pass", false, "Reserve every natural VehicleCD before resolving collisions")
	notices := fs.Bool("notices", false, "Print coercion notices to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := stdin
	if path := fs.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	batch, err := feed.DecodeRecords(body)
	if err != nil {
		return err
	}

	var allocator telemetry.IdentityAllocator = telemetry.OnePassAllocator{}
	if *twoPass {
		allocator = telemetry.TwoPassAllocator{}
	}
	n := telemetry.NewBatchNormalizer(telemetry.WithAllocator(allocator))

	var results []telemetry.Result
	if *strict {
		results, err = n.NormalizeStrict(batch)
	} else {
		results = n.Normalize(batch)
	}

	if *notices || err != nil {
		for i, r := range results {
			for _, notice := range r.Notices {
				fmt.Fprintf(stderr, "record %d: %s\n", i, notice)
			}
		}
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(telemetry.Records(results))
}
