package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phroun/copus"
	"github.com/phroun/copus/internal/config"
	"github.com/phroun/copus/markstore"
)

// markBackend is a mark service that can also list a document's marks.
type markBackend interface {
	copus.MarkService
	MarkList(ctx context.Context, opusUUID string) ([]copus.MarkX, error)
}

type options struct {
	Config     string `short:"c" long:"config" description:"Path to a YAML config file"`
	Remote     bool   `short:"r" long:"remote" description:"Use the mark server from client.base-url (default: in-memory marks)"`
	Server     string `short:"s" long:"server" description:"Mark server base URL; implies --remote"`
	SourceLink string `long:"source-link" description:"Source link written into copied provenance"`
	IDLength   int    `long:"id-length" description:"Length of minted stable ids (overrides identity.id-length)"`
	LogLevel   string `short:"l" long:"log-level" description:"Log level (overrides log.level)"`
}

// REPL holds the state of the interactive session
type REPL struct {
	lib       *copus.Library
	doc       *copus.Document
	editor    *copus.Editor
	service   markBackend
	clipboard *copus.DataTransfer
	opts      options
	reader    *bufio.Reader
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "fatal error (e.g. flag parsing):\n > %s\n", err.Error())
		os.Exit(1)
	}
	opts.Remote = opts.Remote || opts.Server != ""
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.Log.ZerologLevel()
	zerolog.SetGlobalLevel(level)

	fmt.Println("Copus REPL - Annotation Engine Demo")
	fmt.Println("Type 'help' for available commands, 'quit' to exit")
	fmt.Println()

	repl := &REPL{
		clipboard: copus.NewDataTransfer(),
		opts:      opts,
		reader:    bufio.NewReader(os.Stdin),
	}

	lib, err := copus.Init(copus.LibraryOptions{IDLength: cfg.Identity.IDLength})
	if err != nil {
		fmt.Printf("Error initializing library: %v\n", err)
		os.Exit(1)
	}
	repl.lib = lib

	if opts.Remote {
		client, err := markstore.NewClient(markstore.ClientOptions{
			BaseURL:  cfg.Client.BaseURL,
			RetryMax: *cfg.Client.RetryMax,
		})
		if err != nil {
			fmt.Printf("Error creating mark client: %v\n", err)
			os.Exit(1)
		}
		repl.service = client
	} else {
		repl.service = markstore.NewService(markstore.NewMemory(), nil)
	}

	// Main loop
	for {
		fmt.Print("copus> ")
		input, err := repl.reader.ReadString('\n')
		if err != nil {
			fmt.Println("\nGoodbye!")
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if !repl.handleCommand(input) {
			break
		}
	}

	repl.closeDocument()
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Server != "" {
		cfg.Client.BaseURL = opts.Server
	}
	if opts.IDLength > 0 {
		cfg.Identity.IDLength = opts.IDLength
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

func (r *REPL) handleCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help":
		r.printHelp()

	case "quit", "exit":
		fmt.Println("Goodbye!")
		return false

	case "new":
		r.cmdNew(args)

	case "open":
		r.cmdOpen(args)

	case "save":
		r.cmdSave(args)

	case "load":
		r.cmdLoad(args)

	case "export":
		r.cmdExport(args)

	case "close":
		r.closeDocument()
		fmt.Println("Document closed")

	case "status":
		r.cmdStatus()

	case "text":
		r.cmdText()

	case "tree":
		r.cmdTree()

	case "html":
		r.cmdHTML()

	case "resolve":
		r.cmdResolve(args)

	case "select":
		r.cmdSelect(args)

	case "insert":
		r.cmdInsert(args)

	case "delete":
		r.cmdDelete()

	case "wrap":
		r.cmdWrap(args)

	case "mark":
		r.cmdMark(args)

	case "marks":
		r.cmdMarks()

	case "attach":
		r.cmdAttach()

	case "info":
		r.cmdInfo(args)

	case "remove":
		r.cmdRemove(args)

	case "clear":
		r.cmdClear()

	case "copy":
		r.cmdCopy()

	case "paste":
		r.cmdPaste()

	case "tx", "transaction":
		r.cmdTransaction(args)

	default:
		fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}

	return true
}

func (r *REPL) printHelp() {
	help := `
Available Commands:
-------------------

DOCUMENT OPERATIONS:
  new <text>                   Create a document; '\n' separates paragraphs
  open <file>                  Open a document from a JSON file
  save <dir>                   Save the document into a directory
  load <dir> <id>              Load a saved document
  export <file>                Write the document JSON to a file
  close                        Close the current document
  status                       Show document status

INSPECTION:
  text                         Print the plain text
  tree                         Show the node tree with stable ids
  html                         Render the document as HTML
  resolve <node> <offset>      Resolve an anchor to a text run

SELECTION AND EDITING:
  select <node> <off> <node> <off>   Select between two anchors
  insert <text>                Insert text at the selection
  delete                       Delete the selection

MARKS:
  wrap <id> <node> <off> <node> <off>  Wrap a range under a mark id
  mark [source-link]           Create a mark over the selection
  marks                        List marks with their counts
  attach                       Load the document's stored marks
  info <id>...                 Ask the mark service about ids
  remove <id>                  Remove a mark
  clear                        Remove every mark

CLIPBOARD:
  copy                         Copy the selection with provenance
  paste                        Paste the clipboard at the selection

TRANSACTIONS:
  tx start <name>              Start a transaction with optional name
  tx commit                    Commit the current transaction
  tx rollback                  Rollback the current transaction

OTHER:
  help                         Show this help message
  quit, exit                   Exit the REPL
`
	fmt.Println(help)
}

func (r *REPL) setDocument(doc *copus.Document) {
	r.closeDocument()
	r.doc = doc
	r.editor = copus.NewEditor(doc, copus.EditorOptions{
		Service:    r.service,
		SourceLink: r.opts.SourceLink,
	})
}

func (r *REPL) closeDocument() {
	if r.editor != nil {
		r.editor.Close()
		r.editor = nil
	}
	if r.doc != nil {
		r.doc.Close()
		r.doc = nil
	}
}

func (r *REPL) cmdNew(args []string) {
	content := strings.ReplaceAll(strings.Join(args, " "), "\\n", "\n")
	doc, err := r.lib.Open(copus.DocumentOptions{DataString: content})
	if err != nil {
		fmt.Printf("Error creating document: %v\n", err)
		return
	}
	r.setDocument(doc)
	fmt.Printf("Created document %s with %d blocks\n", doc.ID(), len(doc.Blocks()))
}

func (r *REPL) cmdOpen(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: open <file>")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		return
	}
	doc, err := r.lib.Open(copus.DocumentOptions{DataJSON: data})
	if err != nil {
		fmt.Printf("Error opening document: %v\n", err)
		return
	}
	r.setDocument(doc)
	fmt.Printf("Opened document %s with %d blocks, %d spans\n", doc.ID(), len(doc.Blocks()), len(doc.Spans()))
}

func (r *REPL) cmdSave(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: save <dir>")
		return
	}
	if err := copus.NewDocumentStore(args[0], nil).Save(r.doc); err != nil {
		fmt.Printf("Save error: %v\n", err)
		return
	}
	fmt.Printf("Saved document %s\n", r.doc.ID())
}

func (r *REPL) cmdLoad(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: load <dir> <id>")
		return
	}
	r.closeDocument()
	doc, err := copus.NewDocumentStore(args[0], nil).Load(r.lib, args[1])
	if err != nil {
		fmt.Printf("Load error: %v\n", err)
		return
	}
	r.setDocument(doc)
	fmt.Printf("Loaded document %s with %d blocks, %d spans\n", doc.ID(), len(doc.Blocks()), len(doc.Spans()))
}

func (r *REPL) cmdExport(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: export <file>")
		return
	}
	data, err := r.doc.ExportJSON()
	if err != nil {
		fmt.Printf("Export error: %v\n", err)
		return
	}
	if err := os.WriteFile(args[0], data, 0644); err != nil {
		fmt.Printf("Write error: %v\n", err)
		return
	}
	fmt.Printf("Wrote %d bytes\n", len(data))
}

func (r *REPL) cmdStatus() {
	if r.doc == nil {
		fmt.Println("No document is open. Use 'new <text>' to create one.")
		return
	}

	d := r.doc
	fmt.Println("Document Status:")
	fmt.Printf("  ID: %s\n", d.ID())
	fmt.Printf("  Revision: %d\n", d.Revision())
	fmt.Printf("  Blocks: %d, Spans: %d, Stable ids: %d\n", len(d.Blocks()), len(d.Spans()), d.Registry().Len())
	fmt.Printf("  In Transaction: %v (depth: %d)\n", d.InTransaction(), d.TransactionDepth())

	if sel, ok := d.Selection(); ok {
		anchor, _ := d.AnchorOf(sel.Anchor)
		focus, _ := d.AnchorOf(sel.Focus)
		fmt.Printf("  Selection: %s -> %s (backward: %v)\n", anchor, focus, d.IsBackward(sel))
	}
}

func (r *REPL) cmdText() {
	if !r.ensureDocument() {
		return
	}
	fmt.Println("Content:")
	fmt.Println("--------")
	fmt.Println(r.doc.TextContent())
	fmt.Println("--------")
}

func (r *REPL) cmdTree() {
	if !r.ensureDocument() {
		return
	}
	r.printNode(r.doc.Root(), 0)
}

func (r *REPL) printNode(n *copus.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n.Kind() {
	case copus.KindText:
		fmt.Printf("%s%s [%s] %q\n", indent, n.Kind(), n.ID(), n.Text())
	case copus.KindMark:
		fmt.Printf("%s%s ids=%s source=%d branch=%d\n", indent, n.Kind(),
			strings.Join(n.IDs(), ","), n.SourceCount(), n.BranchCount())
	default:
		fmt.Printf("%s%s [%s]\n", indent, n.Kind(), n.ID())
	}
	for _, c := range n.Children() {
		r.printNode(r.doc.Node(c), depth+1)
	}
}

func (r *REPL) cmdHTML() {
	if !r.ensureDocument() {
		return
	}
	if err := r.doc.RenderHTML(os.Stdout); err != nil {
		fmt.Printf("Render error: %v\n", err)
	}
	fmt.Println()
}

func parseAnchor(node, offset string) (copus.Anchor, error) {
	n, err := strconv.Atoi(offset)
	if err != nil {
		return copus.Anchor{}, fmt.Errorf("invalid offset %q", offset)
	}
	return copus.Anchor{NodeID: copus.StableID(node), Offset: n}, nil
}

func parseRange(args []string) (copus.Anchor, copus.Anchor, error) {
	start, err := parseAnchor(args[0], args[1])
	if err != nil {
		return copus.Anchor{}, copus.Anchor{}, err
	}
	end, err := parseAnchor(args[2], args[3])
	return start, end, err
}

func (r *REPL) cmdResolve(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 2 {
		fmt.Println("Usage: resolve <node> <offset>")
		return
	}
	a, err := parseAnchor(args[0], args[1])
	if err != nil {
		fmt.Println(err)
		return
	}
	p, ok := r.doc.ResolveAnchor(a)
	if !ok {
		fmt.Printf("Anchor %s does not resolve\n", a)
		return
	}
	run := r.doc.Node(p.Key)
	fmt.Printf("%s -> run [%s] %q at %d\n", a, run.ID(), run.Text(), p.Offset)
	if ids := r.doc.MarkIDsAt(p); len(ids) > 0 {
		fmt.Printf("  marks: %s\n", strings.Join(ids, ", "))
	}
}

func (r *REPL) cmdSelect(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 4 {
		fmt.Println("Usage: select <node> <off> <node> <off>")
		return
	}
	start, end, err := parseRange(args)
	if err != nil {
		fmt.Println(err)
		return
	}
	err = r.editor.Do(func(d *copus.Document) error {
		return d.SelectAnchors(start, end)
	})
	if err != nil {
		fmt.Printf("Select error: %v\n", err)
		return
	}
	fmt.Printf("Selected %q\n", r.doc.SelectedText())
}

func (r *REPL) cmdInsert(args []string) {
	if !r.ensureDocument() {
		return
	}
	text := strings.Join(args, " ")
	if text == "" {
		fmt.Println("Usage: insert <text>")
		return
	}

	// Handle escape sequences
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.ReplaceAll(text, "\\t", "\t")

	err := r.editor.Do(func(d *copus.Document) error {
		_, err := d.InsertText(text)
		return err
	})
	if err != nil {
		fmt.Printf("Insert error: %v\n", err)
		return
	}
	fmt.Printf("Inserted %d runes. Now at revision=%d\n", len([]rune(text)), r.doc.Revision())
}

func (r *REPL) cmdDelete() {
	if !r.ensureDocument() {
		return
	}
	if err := r.editor.Do(func(d *copus.Document) error { return d.DeleteSelection() }); err != nil {
		fmt.Printf("Delete error: %v\n", err)
		return
	}
	fmt.Printf("Deleted selection. Now at revision=%d\n", r.doc.Revision())
}

func (r *REPL) cmdWrap(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 5 {
		fmt.Println("Usage: wrap <id> <node> <off> <node> <off>")
		return
	}
	start, end, err := parseRange(args[1:])
	if err != nil {
		fmt.Println(err)
		return
	}
	err = r.editor.Do(func(d *copus.Document) error {
		_, err := d.WrapRange(start, end, args[0], nil)
		return err
	})
	if err != nil {
		fmt.Printf("Wrap error: %v\n", err)
		return
	}
	fmt.Printf("Wrapped %s..%s under %s\n", start, end, args[0])
}

func (r *REPL) cmdMark(args []string) {
	if !r.ensureDocument() {
		return
	}
	sourceLink := ""
	if len(args) > 0 {
		sourceLink = args[0]
	}
	m, err := r.editor.CreateMark(context.Background(), sourceLink)
	if err != nil {
		fmt.Printf("Mark error: %v\n", err)
		return
	}
	printMark(m)
}

func printMark(m copus.Mark) {
	fmt.Printf("  %s  %s..%s  source=%d branch=%d  %q\n",
		m.ID, m.Start, m.End, m.SourceCount, m.BranchCount, m.TextContent)
	if m.SourceLink != "" {
		fmt.Printf("      from %s\n", m.SourceLink)
	}
}

func (r *REPL) cmdMarks() {
	if !r.ensureDocument() {
		return
	}
	marks := r.editor.Marks()
	if len(marks) == 0 {
		fmt.Println("No marks")
		return
	}
	fmt.Printf("%d marks:\n", len(marks))
	for _, m := range marks {
		printMark(m)
	}
}

func (r *REPL) cmdAttach() {
	if !r.ensureDocument() {
		return
	}
	list, err := r.service.MarkList(context.Background(), r.doc.ID())
	if err != nil {
		fmt.Printf("Mark list error: %v\n", err)
		return
	}
	applied := r.editor.AttachMarkList(list)
	fmt.Printf("Attached %d of %d stored marks\n", applied, len(list))
}

func (r *REPL) cmdInfo(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: info <id>...")
		return
	}
	info, err := r.editor.MarkInfo(context.Background(), args)
	if err != nil {
		fmt.Printf("Info error: %v\n", err)
		return
	}
	fmt.Printf("Sources (%d):\n", len(info.SourceList))
	for _, m := range info.SourceList {
		fmt.Printf("  %s in %s from %s\n", m.ID, m.OpusUUID, m.SourceLink)
	}
	fmt.Printf("Branches (%d):\n", len(info.BranchList))
	for _, m := range info.BranchList {
		fmt.Printf("  %s in %s\n", m.ID, m.OpusUUID)
	}
}

func (r *REPL) cmdRemove(args []string) {
	if !r.ensureDocument() {
		return
	}
	if len(args) < 1 {
		fmt.Println("Usage: remove <id>")
		return
	}
	if err := r.editor.RemoveMark(args[0]); err != nil {
		fmt.Printf("Remove error: %v\n", err)
		return
	}
	fmt.Printf("Removed %s\n", args[0])
}

func (r *REPL) cmdClear() {
	if !r.ensureDocument() {
		return
	}
	if err := r.editor.ClearMarkList(); err != nil {
		fmt.Printf("Clear error: %v\n", err)
		return
	}
	fmt.Println("Cleared all marks")
}

func (r *REPL) cmdCopy() {
	if !r.ensureDocument() {
		return
	}
	r.clipboard = copus.NewDataTransfer()
	rec, err := r.editor.Copy(r.clipboard)
	if err != nil {
		fmt.Printf("Copy error: %v\n", err)
		return
	}
	fmt.Printf("Copied %q from %s..%s\n", rec.TextContent, rec.StartAnchor, rec.EndAnchor)
	if len(rec.MarkIDs) > 0 {
		fmt.Printf("  carrying marks: %s\n", strings.Join(rec.MarkIDs, ", "))
	}
}

func (r *REPL) cmdPaste() {
	if !r.ensureDocument() {
		return
	}
	m, err := r.editor.Paste(context.Background(), r.clipboard)
	if err != nil {
		fmt.Printf("Paste error: %v\n", err)
		return
	}
	if m == nil {
		fmt.Println("Pasted without provenance")
		return
	}
	fmt.Println("Pasted with provenance:")
	printMark(*m)
}

func (r *REPL) cmdTransaction(args []string) {
	if !r.ensureDocument() {
		return
	}

	if len(args) < 1 {
		fmt.Println("Usage: tx start [name] | tx commit | tx rollback")
		return
	}

	subcmd := strings.ToLower(args[0])
	switch subcmd {
	case "start":
		name := ""
		if len(args) > 1 {
			name = strings.Join(args[1:], " ")
		}
		err := r.editor.Do(func(d *copus.Document) error { return d.TransactionStart(name) })
		if err != nil {
			fmt.Printf("Transaction start error: %v\n", err)
			return
		}
		fmt.Printf("Transaction started (depth=%d, name=%q)\n", r.doc.TransactionDepth(), name)

	case "commit":
		var result copus.ChangeResult
		err := r.editor.Do(func(d *copus.Document) error {
			var err error
			result, err = d.TransactionCommit()
			return err
		})
		if err != nil {
			fmt.Printf("Transaction commit error: %v\n", err)
			return
		}
		fmt.Printf("Transaction committed. Now at revision=%d\n", result.Revision)

	case "rollback":
		err := r.editor.Do(func(d *copus.Document) error { return d.TransactionRollback() })
		if err != nil {
			fmt.Printf("Transaction rollback error: %v\n", err)
			return
		}
		fmt.Printf("Transaction rolled back. Now at revision=%d\n", r.doc.Revision())

	default:
		fmt.Println("Unknown transaction command. Use: start, commit, or rollback")
	}
}

func (r *REPL) ensureDocument() bool {
	if r.doc == nil {
		fmt.Println("No document is open. Use 'new <text>' to create one.")
		return false
	}
	return true
}
