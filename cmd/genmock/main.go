// Command genmock writes deterministic sample dengue and rainfall input files
// for local runs, together with the joined output the job should produce for
// them. The expected output is computed with the pipeline's own chains so it
// always matches real job behavior.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out-dir data/mock \
//	  -states CE,RO,SP \
//	  -start 2015-01 -months 12
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
	"github.com/couchcryptid/dengue-rain-etl/internal/pipeline"
)

const (
	dengueFile   = "casos_dengue.txt"
	rainFile     = "chuvas.csv"
	expectedFile = "expected.csv"

	weeksPerMonth    = 4
	readingsPerMonth = 10
)

type options struct {
	outDir string
	states []string
	start  time.Time
	months int
	cities int
	seed   uint64
}

// dataset holds generated input lines without headers.
type dataset struct {
	dengue []string
	rain   []string
}

func main() {
	beam.Init()

	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	ds := generate(opts)

	if err := writeLines(filepath.Join(opts.outDir, dengueFile),
		strings.Join(domain.DengueColumns, domain.DengueDelimiter), ds.dengue); err != nil {
		return fmt.Errorf("writing dengue input: %w", err)
	}
	if err := writeLines(filepath.Join(opts.outDir, rainFile),
		strings.Join(domain.RainColumns, domain.RainDelimiter), ds.rain); err != nil {
		return fmt.Errorf("writing rain input: %w", err)
	}

	rows, summary, err := expected(ds)
	if err != nil {
		return fmt.Errorf("computing expected output: %w", err)
	}
	formatted := make([]string, len(rows))
	for i, row := range rows {
		formatted[i] = domain.FormatRow(row)
	}
	if err := writeLines(filepath.Join(opts.outDir, expectedFile), domain.Header, formatted); err != nil {
		return fmt.Errorf("writing expected output: %w", err)
	}

	printStats(stdout, opts, summary)
	return nil
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("genmock", flag.ContinueOnError)
	outDir := fs.String("out-dir", "data/mock", "directory for the generated files")
	states := fs.String("states", "CE,RO,SP,RJ,MG", "comma-separated UF codes")
	start := fs.String("start", "2015-01", "first month, YYYY-MM")
	months := fs.Int("months", 12, "number of months to generate")
	cities := fs.Int("cities", 3, "cities per state")
	seed := fs.Uint64("seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	startMonth, err := time.Parse("2006-01", *start)
	if err != nil {
		return options{}, fmt.Errorf("invalid -start: %w", err)
	}
	if *months < 1 || *cities < 1 {
		return options{}, errors.New("-months and -cities must be positive")
	}

	var ufs []string
	for _, s := range strings.Split(*states, ",") {
		if s = strings.TrimSpace(s); s != "" {
			ufs = append(ufs, strings.ToUpper(s))
		}
	}
	if len(ufs) == 0 {
		return options{}, errors.New("-states must name at least one UF")
	}

	return options{
		outDir: *outDir,
		states: ufs,
		start:  startMonth,
		months: *months,
		cities: *cities,
		seed:   *seed,
	}, nil
}

// generate builds weekly dengue notifications per city and scattered rain
// readings per state. Some records carry blank case counts or negative
// readings, and some state-months get no rain at all, so every local
// recovery and the inner join are exercised.
func generate(o options) dataset {
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15)) //nolint:gosec // fixture data
	var ds dataset
	id := 0

	for si, uf := range o.states {
		for m := range o.months {
			month := o.start.AddDate(0, m, 0)

			for c := range o.cities {
				for w := range weeksPerMonth {
					id++
					casos := strconv.FormatFloat(float64(rng.IntN(200)), 'f', 1, 64)
					if id%37 == 0 {
						casos = ""
					}
					ds.dengue = append(ds.dengue, strings.Join([]string{
						strconv.Itoa(id),
						month.AddDate(0, 0, w*7).Format(time.DateOnly),
						casos,
						fmt.Sprintf("%02d%05d", 11+si, c+1),
						fmt.Sprintf("Cidade %s %d", uf, c+1),
						uf,
						fmt.Sprintf("%05d-000", rng.IntN(100000)),
						strconv.FormatFloat(-30+rng.Float64()*30, 'f', 4, 64),
						strconv.FormatFloat(-70+rng.Float64()*35, 'f', 4, 64),
					}, domain.DengueDelimiter))
				}
			}

			if (si+m)%7 == 6 {
				continue
			}
			for d := range readingsPerMonth {
				mm := float64(rng.IntN(4000)) / 100
				if rng.IntN(25) == 0 {
					mm = -mm
				}
				ds.rain = append(ds.rain, strings.Join([]string{
					month.AddDate(0, 0, d*3).Format(time.DateOnly),
					strconv.FormatFloat(mm, 'f', 2, 64),
					uf,
				}, domain.RainDelimiter))
			}
		}
	}
	return ds
}

// expected runs the generated lines through the pipeline's job graph.
func expected(ds dataset) ([]domain.OutputRow, pipeline.Summary, error) {
	var summary pipeline.Summary

	res, err := pipeline.Execute(context.Background(),
		rawLines(dengueFile, ds.dengue), rawLines(rainFile, ds.rain), true)
	if err != nil {
		return nil, summary, err
	}
	if err := res.Err(); err != nil {
		return nil, summary, err
	}

	summary.Dengue, summary.Rain, summary.Join = res.Dengue, res.Rain, res.Join
	return res.Rows, summary, nil
}

func rawLines(source string, texts []string) []domain.RawLine {
	lines := make([]domain.RawLine, len(texts))
	for i, text := range texts {
		lines[i] = domain.RawLine{Source: source, Number: i + 2, Text: text}
	}
	return lines
}

func writeLines(path, header string, lines []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

func printStats(w io.Writer, o options, s pipeline.Summary) {
	fmt.Fprintf(w, "wrote %s, %s and %s to %s\n", dengueFile, rainFile, expectedFile, o.outDir)
	fmt.Fprintln(w, "\n=== Stats for updating test assertions ===")
	fmt.Fprintf(w, "States: %s, months: %d from %s\n", strings.Join(o.states, ","), o.months, o.start.Format("2006-01"))
	fmt.Fprintf(w, "Dengue: lines=%d keys=%d cases_defaulted=%d\n", s.Dengue.Lines, s.Dengue.Keys, s.Dengue.CasesDefaulted)
	fmt.Fprintf(w, "Rain: lines=%d keys=%d clamped=%d\n", s.Rain.Lines, s.Rain.Keys, s.Rain.Clamped)
	fmt.Fprintf(w, "Join: keys=%d incomplete=%d rows=%d\n", s.Join.Keys, s.Join.Incomplete, s.Join.Rows)
}
