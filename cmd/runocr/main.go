package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/internal/classify"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ocr"
	"github.com/joseph-ayodele/werkstatt-archive/internal/patterns"
)

// runocr extracts and classifies one file without touching the archive.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	set := flag.String("set", "standard", "pattern set name")
	patternFile := flag.String("patterns", "", "optional pattern file")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-set name] [-patterns file.yaml] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cache, err := patterns.NewCache(patterns.DefaultCacheSize, logger)
	if err != nil {
		logger.Error("pattern cache", "error", err)
		os.Exit(1)
	}
	lib := patterns.NewLibrary(cache, logger)
	if *patternFile != "" {
		if err := lib.Load(*patternFile); err != nil {
			logger.Error("pattern file rejected", "path", *patternFile, "error", err)
			os.Exit(1)
		}
	}
	compiled, err := lib.Compiled(*set)
	if err != nil {
		logger.Error("pattern set", "set", *set, "error", err)
		os.Exit(1)
	}

	ocrx, err := ocr.NewExtractor(ocr.Config{}, logger)
	if err != nil {
		logger.Error("ocr extractor", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := ocrx.Extract(ctx, path)
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	fields := patterns.NewExtractor(logger).Extract(res.Text, compiled)
	if res.Pages > 0 {
		fields.PageCount = entity.Some(res.Pages)
	}
	score := classify.Score(fields)

	logger.Info("text extraction OK",
		"method", res.Method,
		"pages", res.Pages,
		"bytes", len(res.Text),
		"warnings", res.Warnings,
		"duration_ms", dur.Milliseconds(),
	)
	logger.Info("fields",
		"customer_number", fields.CustomerNumber.Value,
		"customer_name", fields.CustomerName.Value,
		"order_number", fields.OrderNumber.Value,
		"date", fields.DocumentDate.Value.Format("2006-01-02"),
		"year", fields.Year.Value,
		"type", fields.TypeLabel(),
		"vehicle_id", fields.VehicleID.Value,
		"plate", fields.Plate.Value,
		"postal_code", fields.PostalCode.Value,
		"street", fields.Street.Value,
		"score", score,
		"unclear", classify.IsUnclear(fields, score),
	)
}
