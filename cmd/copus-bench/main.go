// copus-bench is a benchmark and stress test for the copus library.
// It builds a large document and measures anchor resolution, mark
// wrapping and removal, serialization and the clipboard path.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"github.com/phroun/copus"
	"github.com/phroun/copus/markstore"
)

type options struct {
	Paragraphs int    `short:"p" long:"paragraphs" default:"2000" description:"Number of paragraphs in the document"`
	Marks      int    `short:"m" long:"marks" default:"1000" description:"Number of marks to wrap"`
	Resolves   int    `short:"r" long:"resolves" default:"100000" description:"Number of anchor resolutions"`
	Bolt       string `long:"bolt" description:"Benchmark mark creation against a bbolt file instead of memory"`
}

const paragraphText = "The quick brown fox jumps over the lazy dog while annotations stay put."

type BenchResult struct {
	Name     string
	Duration time.Duration
	Ops      int
	Extra    string
}

func (r BenchResult) String() string {
	if r.Ops > 0 {
		opsPerSec := float64(r.Ops) / r.Duration.Seconds()
		if r.Extra != "" {
			return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec) %s", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec, r.Extra)
		}
		return fmt.Sprintf("%-40s %12v  (%d ops, %.2f ops/sec)", r.Name, r.Duration.Round(time.Microsecond), r.Ops, opsPerSec)
	}
	if r.Extra != "" {
		return fmt.Sprintf("%-40s %12v  %s", r.Name, r.Duration.Round(time.Microsecond), r.Extra)
	}
	return fmt.Sprintf("%-40s %12v", r.Name, r.Duration.Round(time.Microsecond))
}

func errResult(name string, err error) BenchResult {
	return BenchResult{Name: name, Extra: fmt.Sprintf("ERROR: %v", err)}
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "fatal error (e.g. flag parsing):\n > %s\n", err.Error())
		os.Exit(1)
	}
	if opts.Marks > opts.Paragraphs {
		opts.Marks = opts.Paragraphs
	}

	// Library diagnostics would swamp the timings
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	fmt.Println("Copus Benchmark and Stress Test")
	fmt.Println("===============================")
	fmt.Printf("Paragraphs: %d, marks: %d\n", opts.Paragraphs, opts.Marks)
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	lib, err := copus.Init(copus.LibraryOptions{IDSource: copus.NewSeededIDSource(1)})
	if err != nil {
		fmt.Printf("Failed to init library: %v\n", err)
		os.Exit(1)
	}

	var results []BenchResult

	// Helper to run and print each benchmark
	runBench := func(name string, fn func() BenchResult) {
		fmt.Printf("  %-40s ", name+"...")
		result := fn()
		fmt.Printf("%v\n", result.Duration.Round(time.Microsecond))
		results = append(results, result)
	}

	fmt.Println("Running benchmarks...")
	fmt.Println()

	var doc *copus.Document
	fmt.Println("Document:")
	runBench("Open plain text", func() BenchResult {
		var r BenchResult
		doc, r = benchOpen(lib, opts.Paragraphs)
		return r
	})
	if doc == nil {
		fmt.Println("Failed to open document")
		os.Exit(1)
	}
	defer doc.Close()

	fmt.Println("\nAnchors:")
	runBench("Resolve block anchors", func() BenchResult { return benchResolve(doc, opts.Resolves, "Resolve block anchors") })

	fmt.Println("\nMarks:")
	runBench("Wrap ranges", func() BenchResult { return benchWrap(doc, opts.Marks) })
	runBench("Resolve anchors through spans", func() BenchResult {
		return benchResolve(doc, opts.Resolves, "Resolve anchors through spans")
	})
	runBench("Recompute counts", func() BenchResult { return benchRecompute(doc) })

	fmt.Println("\nSerialization:")
	runBench("Export and reopen JSON", func() BenchResult { return benchRoundTrip(lib, doc) })

	fmt.Println("\nClipboard:")
	service, closeService, err := openService(opts.Bolt)
	if err != nil {
		fmt.Printf("Failed to open mark store: %v\n", err)
		os.Exit(1)
	}
	defer closeService()
	runBench("Copy and paste with provenance", func() BenchResult { return benchCopyPaste(doc, service, opts.Marks) })

	fmt.Println("\nCleanup:")
	runBench("Remove marks", func() BenchResult { return benchRemove(doc, opts.Marks) })

	// Print summary
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	for _, r := range results {
		fmt.Println(r)
	}

	// Memory stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Println()
	fmt.Printf("Peak heap allocation: %d MB\n", m.HeapSys/(1024*1024))
	fmt.Printf("Total allocations: %d MB\n", m.TotalAlloc/(1024*1024))
}

func openService(boltPath string) (*markstore.Service, func(), error) {
	var store markstore.Store = markstore.NewMemory()
	if boltPath != "" {
		b, err := markstore.OpenBolt(boltPath)
		if err != nil {
			return nil, nil, err
		}
		store = b
	}
	return markstore.NewService(store, nil), func() { store.Close() }, nil
}

func benchOpen(lib *copus.Library, paragraphs int) (*copus.Document, BenchResult) {
	const name = "Open plain text"
	lines := make([]string, paragraphs)
	for i := range lines {
		lines[i] = fmt.Sprintf("%d. %s", i, paragraphText)
	}
	start := time.Now()
	doc, err := lib.Open(copus.DocumentOptions{DocumentID: "bench", DataString: strings.Join(lines, "\n")})
	if err != nil {
		return nil, errResult(name, err)
	}
	return doc, BenchResult{
		Name:     name,
		Duration: time.Since(start),
		Extra:    fmt.Sprintf("%d stable ids", doc.Registry().Len()),
	}
}

func benchResolve(doc *copus.Document, ops int, name string) BenchResult {
	blocks := doc.Blocks()
	start := time.Now()
	missed := 0
	for i := 0; i < ops; i++ {
		b := blocks[i%len(blocks)]
		if _, ok := doc.ResolveAnchor(copus.Anchor{NodeID: b.ID(), Offset: i % 40}); !ok {
			missed++
		}
	}
	return BenchResult{
		Name:     name,
		Duration: time.Since(start),
		Ops:      ops,
		Extra:    fmt.Sprintf("%d unresolved", missed),
	}
}

func benchWrap(doc *copus.Document, marks int) BenchResult {
	blocks := doc.Blocks()
	start := time.Now()
	for i := 0; i < marks; i++ {
		id := blocks[i].ID()
		if _, err := doc.WrapRange(copus.Anchor{NodeID: id, Offset: 4}, copus.Anchor{NodeID: id, Offset: 19}, fmt.Sprintf("m%d", i), nil); err != nil {
			return errResult("Wrap ranges", err)
		}
		// Every tenth paragraph also gets an overlapping mark
		if i%10 == 0 {
			if _, err := doc.WrapRange(copus.Anchor{NodeID: id, Offset: 10}, copus.Anchor{NodeID: id, Offset: 30}, fmt.Sprintf("o%d", i), nil); err != nil {
				return errResult("Wrap ranges", err)
			}
		}
	}
	return BenchResult{
		Name:     "Wrap ranges",
		Duration: time.Since(start),
		Ops:      marks + (marks+9)/10,
		Extra:    fmt.Sprintf("%d spans", len(doc.Spans())),
	}
}

func benchRecompute(doc *copus.Document) BenchResult {
	ix := copus.NewMarkIndex(doc)
	defer ix.Close()
	for _, id := range ix.IDs() {
		ix.SetCounts(id, copus.Counts{Source: 1, Branch: 1})
	}
	start := time.Now()
	n, err := ix.RecomputeCounts()
	if err != nil {
		return errResult("Recompute counts", err)
	}
	return BenchResult{
		Name:     "Recompute counts",
		Duration: time.Since(start),
		Extra:    fmt.Sprintf("%d spans updated", n),
	}
}

func benchRoundTrip(lib *copus.Library, doc *copus.Document) BenchResult {
	start := time.Now()
	data, err := doc.ExportJSON()
	if err != nil {
		return errResult("Export and reopen JSON", err)
	}
	copyDoc, err := lib.Open(copus.DocumentOptions{DocumentID: "bench-copy", DataJSON: data})
	if err != nil {
		return errResult("Export and reopen JSON", err)
	}
	defer copyDoc.Close()
	return BenchResult{
		Name:     "Export and reopen JSON",
		Duration: time.Since(start),
		Extra:    fmt.Sprintf("%d KB, %d spans", len(data)/1024, len(copyDoc.Spans())),
	}
}

func benchCopyPaste(doc *copus.Document, service copus.MarkService, ops int) BenchResult {
	const name = "Copy and paste with provenance"
	editor := copus.NewEditor(doc, copus.EditorOptions{Service: service, SourceLink: "bench"})
	defer editor.Close()

	ctx := context.Background()
	blocks := doc.Blocks()
	last := blocks[len(blocks)-1].ID()
	start := time.Now()
	for i := 0; i < ops; i++ {
		id := blocks[i].ID()
		cb := copus.NewDataTransfer()
		err := editor.Do(func(d *copus.Document) error {
			return d.SelectAnchors(copus.Anchor{NodeID: id, Offset: 4}, copus.Anchor{NodeID: id, Offset: 19})
		})
		if err != nil {
			return errResult(name, err)
		}
		if _, err := editor.Copy(cb); err != nil {
			return errResult(name, err)
		}
		err = editor.Do(func(d *copus.Document) error {
			return d.SelectAnchors(copus.Anchor{NodeID: last, Offset: 0}, copus.Anchor{NodeID: last, Offset: 0})
		})
		if err != nil {
			return errResult(name, err)
		}
		if _, err := editor.Paste(ctx, cb); err != nil {
			return errResult(name, err)
		}
	}
	return BenchResult{
		Name:     name,
		Duration: time.Since(start),
		Ops:      ops,
		Extra:    fmt.Sprintf("%d marks tracked", len(editor.Marks())),
	}
}

func benchRemove(doc *copus.Document, marks int) BenchResult {
	start := time.Now()
	removed := 0
	for i := 0; i < marks; i++ {
		n, err := doc.RemoveMarkID(fmt.Sprintf("m%d", i))
		if err != nil {
			return errResult("Remove marks", err)
		}
		removed += n
	}
	n, err := doc.ClearMarks()
	if err != nil {
		return errResult("Remove marks", err)
	}
	return BenchResult{
		Name:     "Remove marks",
		Duration: time.Since(start),
		Ops:      marks,
		Extra:    fmt.Sprintf("%d spans unwrapped, %d cleared", removed, n),
	}
}
