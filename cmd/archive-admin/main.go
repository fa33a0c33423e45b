package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/app"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/merge"
)

const usage = `usage: archive-admin [-config file] <command> [flags]

commands:
  import-customers  -file customers.csv [-charset windows-1252]
  import-vehicles   -file vehicles.csv [-charset windows-1252]
  import-documents  -file documents.jsonl
  pending list
  pending resolve   -id N -customer NUMBER
  pending virtual   -id N [-name NAME]
  merge             -virtual VK00001 -real 12345 [-name NAME]
  virtual list
  vehicles          -customer NUMBER | -plate PLATE
  search            [-customer] [-name] [-order] [-file] [-type] [-year] [-vin] [-plate] [-status] [-legacy] [-limit] [-xlsx out.xlsx]
  stats
  maintain          [-optimize]
  maintain cleanup  -before YYYY-MM-DD [-status unclear]
`

type command func(ctx context.Context, a *app.App, args []string) error

var commands = map[string]command{
	"import-customers": importCustomers,
	"import-vehicles":  importVehicles,
	"import-documents": importDocuments,
	"pending":          pending,
	"merge":            mergeVirtual,
	"virtual":          virtual,
	"vehicles":         vehicles,
	"search":           search,
	"stats":            stats,
	"maintain":         maintain,
}

func main() {
	global := flag.NewFlagSet("archive-admin", flag.ExitOnError)
	configPath := global.String("config", os.Getenv("ARCHIVE_CONFIG"), "path to YAML config file")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}
	cmd, ok := commands[global.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", global.Arg(0))
		global.Usage()
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(2)
	}
	logger := app.NewLogger(cfg.LogLevel, false)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize archive", "error", err)
		os.Exit(1)
	}
	err = cmd(ctx, a, global.Args()[1:])
	a.Close()
	if err != nil {
		var ce *merge.CascadeError
		if errors.As(err, &ce) {
			printReport(ce.Report)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func importCustomers(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("import-customers", flag.ExitOnError)
	file := fs.String("file", a.Config.Archive.CustomerCSV, "customer CSV export")
	charset := fs.String("charset", a.Config.Archive.CSVCharset, "utf-8 | windows-1252 | iso-8859-1")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("%w: -file is required", common.ErrInvalidInput)
	}
	st, err := a.Customers.ImportCustomersFile(ctx, *file, *charset)
	if err != nil {
		return err
	}
	fmt.Printf("customers: %d rows, %d imported, %d skipped\n", st.Rows, st.Imported, st.Skipped)
	return nil
}

func importVehicles(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("import-vehicles", flag.ExitOnError)
	file := fs.String("file", a.Config.Archive.VehicleCSV, "vehicle CSV export")
	charset := fs.String("charset", a.Config.Archive.CSVCharset, "utf-8 | windows-1252 | iso-8859-1")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("%w: -file is required", common.ErrInvalidInput)
	}
	st, err := a.Vehicles.ImportVehiclesFile(ctx, *file, *charset)
	if err != nil {
		return err
	}
	fmt.Printf("vehicles: %d rows, %d imported, %d skipped, %d bound to several customers\n",
		st.Rows, st.Imported, st.Skipped, st.Conflicts)
	return nil
}

// importDocuments loads index records exported as JSON lines. The whole file is one batch:
// any invalid record rejects all of them.
func importDocuments(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("import-documents", flag.ExitOnError)
	file := fs.String("file", "", "JSON lines file, one document per line")
	_ = fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("%w: -file is required", common.ErrInvalidInput)
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	docs, err := decodeDocuments(f)
	if err != nil {
		return err
	}
	ids, err := a.Documents.InsertBatch(ctx, docs)
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d imported\n", len(ids))
	return nil
}

func decodeDocuments(r io.Reader) ([]*entity.Document, error) {
	var docs []*entity.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var d entity.Document
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", common.ErrInvalidInput, line, err)
		}
		d.ID = 0
		docs = append(docs, &d)
	}
	return docs, sc.Err()
}

func pending(ctx context.Context, a *app.App, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: pending needs list, resolve or virtual", common.ErrInvalidInput)
	}
	switch args[0] {
	case "list":
		entries, err := a.Manual.ListOpen(ctx)
		if err != nil {
			return err
		}
		t := newTable("ID", "Datei", "Name", "FIN", "Auftrag", "Grund", "Confidence")
		for _, e := range entries {
			t.Append([]string{
				strconv.FormatInt(e.ID, 10), e.SourceFilename, e.CustomerName, e.VehicleID,
				e.OrderNumber, string(e.MatchReason), fmt.Sprintf("%.2f", e.Confidence),
			})
		}
		t.Render()
		return nil
	case "resolve":
		fs := flag.NewFlagSet("pending resolve", flag.ExitOnError)
		id := fs.Int64("id", 0, "pending entry id")
		customer := fs.String("customer", "", "customer number to file under")
		_ = fs.Parse(args[1:])
		if *id <= 0 || *customer == "" {
			return fmt.Errorf("%w: -id and -customer are required", common.ErrInvalidInput)
		}
		d, err := a.Manual.Resolve(ctx, *id, *customer)
		if err != nil {
			return err
		}
		fmt.Printf("filed document %d: %s (%s)\n", d.ID, d.TargetPath, d.Status)
		return nil
	case "virtual":
		fs := flag.NewFlagSet("pending virtual", flag.ExitOnError)
		id := fs.Int64("id", 0, "pending entry id")
		name := fs.String("name", "", "customer name (defaults to the extracted name)")
		_ = fs.Parse(args[1:])
		if *id <= 0 {
			return fmt.Errorf("%w: -id is required", common.ErrInvalidInput)
		}
		d, err := a.Manual.ResolveToVirtual(ctx, *id, *name)
		if err != nil {
			return err
		}
		fmt.Printf("filed document %d under %s: %s\n", d.ID, d.CustomerNumber, d.TargetPath)
		return nil
	default:
		return fmt.Errorf("%w: unknown pending command %q", common.ErrInvalidInput, args[0])
	}
}

func mergeVirtual(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	virtualNumber := fs.String("virtual", "", "virtual customer number")
	realNumber := fs.String("real", "", "real customer number")
	name := fs.String("name", "", "customer name to store with the real number")
	_ = fs.Parse(args)
	if *virtualNumber == "" || *realNumber == "" {
		return fmt.Errorf("%w: -virtual and -real are required", common.ErrInvalidInput)
	}
	var fields entity.CustomerFields
	if *name != "" {
		fields.Name = entity.Some(*name)
	}
	report, err := a.Cascade.Merge(ctx, *virtualNumber, *realNumber, fields)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func printReport(r merge.Report) {
	fmt.Printf("merge %s: %s -> %s, %d moved, %d failed, %d not attempted, %d vehicles rebound\n",
		r.RunID, r.Virtual, r.Real, len(r.Succeeded()), len(r.Failed()), len(r.Pending()), r.Vehicles)
	if len(r.Operations) == 0 {
		return
	}
	t := newTable("Dokument", "Status", "Von", "Nach")
	for _, op := range r.Operations {
		t.Append([]string{strconv.FormatInt(op.DocumentID, 10), op.Status.String(), op.OldPath, op.NewPath})
	}
	t.Render()
}

func virtual(_ context.Context, a *app.App, args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return fmt.Errorf("%w: virtual needs list", common.ErrInvalidInput)
	}
	t := newTable("Nummer", "Name", "PLZ", "Ort", "Strasse")
	for _, c := range a.Customers.ListVirtual() {
		t.Append([]string{c.Number, c.Name, c.PostalCode, c.City, c.Street})
	}
	t.Render()
	return nil
}

func vehicles(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("vehicles", flag.ExitOnError)
	customer := fs.String("customer", "", "list vehicles of a customer")
	plate := fs.String("plate", "", "list customers of a plate")
	_ = fs.Parse(args)
	switch {
	case *customer != "":
		recs, err := a.Vehicles.ByCustomer(ctx, *customer)
		if err != nil {
			return err
		}
		t := newTable("FIN", "Kennzeichen", "Marke", "Modell", "Erstzulassung")
		for _, r := range recs {
			t.Append([]string{r.VehicleID, r.Plate, r.Make, r.Model, r.FirstRegistration})
		}
		t.Render()
	case *plate != "":
		nums, err := a.Vehicles.CustomersByPlate(ctx, *plate)
		if err != nil {
			return err
		}
		t := newTable("Kunden-Nr.", "Name")
		for _, n := range nums {
			c, _ := a.Customers.Lookup(n)
			t.Append([]string{n, c.Name})
		}
		t.Render()
	default:
		return fmt.Errorf("%w: -customer or -plate is required", common.ErrInvalidInput)
	}
	return nil
}

func search(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	var c entity.Criteria
	fs.StringVar(&c.CustomerNumber, "customer", "", "customer number")
	fs.StringVar(&c.Name, "name", "", "customer name substring")
	fs.StringVar(&c.OrderNumber, "order", "", "order number")
	fs.StringVar(&c.Filename, "file", "", "filename substring")
	fs.StringVar(&c.DocumentType, "type", "", "document type")
	fs.IntVar(&c.Year, "year", 0, "document year")
	fs.StringVar(&c.VehicleID, "vin", "", "vehicle identifier or its last digits")
	fs.StringVar(&c.Plate, "plate", "", "plate substring")
	status := fs.String("status", "", "filed | unclear | legacy_filed | legacy_unclear")
	fs.BoolVar(&c.LegacyOnly, "legacy", false, "legacy documents only")
	limit := fs.Int("limit", 100, "maximum rows printed (0 = all)")
	xlsx := fs.String("xlsx", "", "write the full result set to an XLSX file instead")
	_ = fs.Parse(args)
	c.Status = constants.DocumentStatus(*status)

	if *xlsx != "" {
		data, err := a.Export.DocumentsXLSX(ctx, c)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*xlsx, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("written: %s\n", *xlsx)
		return nil
	}

	t := newTable("ID", "Kunde", "Name", "Auftrag", "Typ", "Jahr", "FIN", "Status", "Pfad")
	n := 0
	for d, err := range a.Documents.Search(ctx, c, 0) {
		if err != nil {
			return err
		}
		year := ""
		if d.Year > 0 {
			year = strconv.Itoa(d.Year)
		}
		t.Append([]string{
			strconv.FormatInt(d.ID, 10), d.CustomerNumber, d.CustomerName, d.OrderNumber,
			d.DocumentType, year, d.VehicleID, string(d.Status), d.TargetPath,
		})
		n++
		if *limit > 0 && n >= *limit {
			break
		}
	}
	t.Render()
	fmt.Printf("%d documents\n", n)
	return nil
}

func stats(ctx context.Context, a *app.App, _ []string) error {
	st, err := a.Documents.Aggregate(ctx)
	if err != nil {
		return err
	}
	t := newTable("Kennzahl", "Wert")
	t.Append([]string{"Dokumente", strconv.Itoa(st.Total)})
	t.Append([]string{"Legacy", strconv.Itoa(st.LegacyCount)})
	t.Append([]string{"Offene Legacy-Fälle", strconv.Itoa(st.OpenPending)})
	t.Append([]string{"Kunden", strconv.Itoa(st.UniqueCustomers)})
	t.Append([]string{"Fahrzeuge", strconv.Itoa(st.UniqueVehicles)})
	t.Append([]string{"Ø Confidence", fmt.Sprintf("%.2f", st.AvgConfidence)})
	for _, k := range sortedKeys(st.ByStatus) {
		t.Append([]string{"Status " + k, strconv.Itoa(st.ByStatus[k])})
	}
	for _, k := range sortedKeys(st.ByType) {
		t.Append([]string{"Typ " + k, strconv.Itoa(st.ByType[k])})
	}
	years := make([]int, 0, len(st.ByYear))
	for y := range st.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	for _, y := range years {
		t.Append([]string{"Jahr " + strconv.Itoa(y), strconv.Itoa(st.ByYear[y])})
	}
	t.Render()
	return nil
}

func maintain(ctx context.Context, a *app.App, args []string) error {
	if len(args) > 0 && args[0] == "cleanup" {
		return cleanup(ctx, a, args[1:])
	}
	fs := flag.NewFlagSet("maintain", flag.ExitOnError)
	optimize := fs.Bool("optimize", false, "run ANALYZE and VACUUM before reporting")
	_ = fs.Parse(args)

	if *optimize {
		rep, err := a.DB.Maintain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("optimized in %s (%d -> %d bytes)\n", rep.Duration.Round(time.Millisecond), rep.SizeBefore, rep.SizeAfter)
	}
	h, err := a.DB.Inspect(ctx)
	if err != nil {
		return err
	}
	t := newTable("Prüfung", "Ergebnis")
	t.Append([]string{"Dialekt", h.Dialect})
	t.Append([]string{"Integrität", h.Integrity})
	if h.JournalMode != "" {
		t.Append([]string{"Journal", h.JournalMode})
	}
	t.Append([]string{"Indizes", strconv.Itoa(h.Indexes)})
	t.Append([]string{"Dokumente", strconv.Itoa(h.Documents)})
	t.Append([]string{"Offene Legacy-Fälle", strconv.Itoa(h.OpenPending)})
	t.Render()
	for _, w := range h.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if !h.Healthy() {
		return fmt.Errorf("%w: integrity check failed", common.ErrDatabase)
	}
	return nil
}

func cleanup(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("maintain cleanup", flag.ExitOnError)
	before := fs.String("before", "", "delete records created before this date (YYYY-MM-DD)")
	status := fs.String("status", "", "only delete records with this status")
	_ = fs.Parse(args)
	if *before == "" {
		return fmt.Errorf("%w: -before is required", common.ErrInvalidInput)
	}
	cutoff, err := time.ParseInLocation("2006-01-02", *before, time.Local)
	if err != nil {
		return fmt.Errorf("%w: -before: %v", common.ErrInvalidInput, err)
	}
	var statuses []constants.DocumentStatus
	if *status != "" {
		statuses = append(statuses, constants.DocumentStatus(*status))
	}
	n, err := a.Documents.DeleteCreatedBefore(ctx, cutoff, statuses...)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d document records created before %s\n", n, cutoff.Format("2006-01-02"))
	return nil
}

func newTable(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	return t
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
