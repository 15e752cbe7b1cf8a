// Command credsync-perfcheck compares two `go test -bench` outputs and fails
// when a tracked engine benchmark regressed past its limit.
//
//	go test -run '^$' -bench . -count 5 . > new.txt
//	credsync-perfcheck -baseline old.txt -candidate new.txt
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// tracked lists the benchmarks and units that gate a change. A zero limit
// falls back to the -threshold flag.
var tracked = []check{
	{Benchmark: "BenchmarkLoadRemote", Unit: "ns/op"},
	{Benchmark: "BenchmarkLoadRemote", Unit: "allocs/op", Limit: 0.10},
	{Benchmark: "BenchmarkSaveSynced", Unit: "ns/op"},
	{Benchmark: "BenchmarkSaveSynced", Unit: "allocs/op", Limit: 0.10},
	{Benchmark: "BenchmarkSaveCacheOnly", Unit: "ns/op"},
	{Benchmark: "BenchmarkBootstrap", Unit: "ns/op"},
	{Benchmark: "BenchmarkLoadParallelManyPrincipals", Unit: "ns/op"},
}

type check struct {
	Benchmark string  `json:"benchmark"`
	Unit      string  `json:"unit"`
	Limit     float64 `json:"limit"`
}

type result struct {
	check
	Baseline  float64 `json:"baseline"`
	Candidate float64 `json:"candidate"`
	Delta     float64 `json:"delta"`
	Failed    bool    `json:"failed"`
	Reason    string  `json:"reason,omitempty"`
}

// samples maps benchmark -> unit -> observed values across -count runs.
type samples map[string]map[string][]float64

func main() {
	var (
		baselinePath  = flag.String("baseline", "", "path to baseline benchmark output")
		candidatePath = flag.String("candidate", "", "path to candidate benchmark output")
		threshold     = flag.Float64("threshold", 0.30, "default allowed regression ratio (0.30 = +30%)")
		asJSON        = flag.Bool("json", false, "print the report as JSON")
	)
	flag.Parse()

	if *baselinePath == "" || *candidatePath == "" {
		fmt.Fprintln(os.Stderr, "-baseline and -candidate are required")
		os.Exit(2)
	}
	if *threshold < 0 {
		fmt.Fprintln(os.Stderr, "-threshold must be >= 0")
		os.Exit(2)
	}

	baseline, err := parseFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse baseline: %v\n", err)
		os.Exit(1)
	}
	candidate, err := parseFile(*candidatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse candidate: %v\n", err)
		os.Exit(1)
	}

	results := compare(baseline, candidate, *threshold)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		printTable(os.Stdout, results)
	}

	for _, r := range results {
		if r.Failed {
			os.Exit(1)
		}
	}
}

func compare(baseline, candidate samples, threshold float64) []result {
	out := make([]result, 0, len(tracked))
	for _, c := range tracked {
		if c.Limit == 0 {
			c.Limit = threshold
		}
		r := result{check: c}

		base := baseline[c.Benchmark][c.Unit]
		cand := candidate[c.Benchmark][c.Unit]
		switch {
		case len(base) == 0 || len(cand) == 0:
			r.Failed, r.Reason = true, "missing samples"
		default:
			r.Baseline, r.Candidate = median(base), median(cand)
			if r.Baseline <= 0 {
				// zero allocs stays zero; anything else is a regression
				if r.Candidate > 0 {
					r.Failed, r.Reason = true, "baseline was zero"
				}
				break
			}
			r.Delta = (r.Candidate - r.Baseline) / r.Baseline
			if r.Delta > c.Limit {
				r.Failed, r.Reason = true, fmt.Sprintf("regressed %+0.2f%% (limit %+0.2f%%)", r.Delta*100, c.Limit*100)
			}
		}
		out = append(out, r)
	}
	return out
}

func printTable(w io.Writer, results []result) {
	fmt.Fprintln(w, "benchmark unit baseline candidate delta status")
	for _, r := range results {
		status := "ok"
		if r.Failed {
			status = "FAIL: " + r.Reason
		}
		fmt.Fprintf(w, "%s %s %.3f %.3f %+0.2f%% %s\n", r.Benchmark, r.Unit, r.Baseline, r.Candidate, r.Delta*100, status)
	}
}

func parseFile(path string) (samples, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parse(f)
}

// parse reads benchmark lines of the form
// "BenchmarkName-8  1000  1234 ns/op  56 B/op  2 allocs/op".
func parse(r io.Reader) (samples, error) {
	want := make(map[string]bool, len(tracked))
	for _, c := range tracked {
		want[c.Benchmark] = true
	}

	out := samples{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := stripProcs(fields[0])
		if !want[name] {
			continue
		}
		units, ok := out[name]
		if !ok {
			units = map[string][]float64{}
			out[name] = units
		}
		for i := 2; i+1 < len(fields); i += 2 {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				continue
			}
			units[fields[i+1]] = append(units[fields[i+1]], v)
		}
	}
	return out, scanner.Err()
}

// stripProcs drops the -GOMAXPROCS suffix go test appends.
func stripProcs(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return name
	}
	return name[:i]
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
