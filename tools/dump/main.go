package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/docker/go-units"

	"github.com/gernest/mmprom/aggregate"
	"github.com/gernest/mmprom/expose"
)

var (
	typ  = flag.String("type", "counter", "metric type of the file: counter, gauge, histogram, summary or exemplar")
	mode = flag.String("mode", "", "gauge aggregation mode: all, min, max or livesum")
	pid  = flag.String("pid", "", "pid label for pid-significant entries")
)

func main() {
	flag.Parse()
	path := flag.Arg(0)

	t, err := aggregate.ParseType(*typ)
	if err != nil {
		slog.Error("parsing type", "type", *typ, "err", err)
		os.Exit(1)
	}
	m, err := aggregate.ParseMode(*mode)
	if err != nil {
		slog.Error("parsing mode", "mode", *mode, "err", err)
		os.Exit(1)
	}
	stat, err := os.Stat(path)
	if err != nil {
		slog.Error("stating file", "path", path, "err", err)
		os.Exit(1)
	}
	slog.Info("dumping", "path", path, "size", units.BytesSize(float64(stat.Size())))

	agg := aggregate.Get(slog.Default())
	defer agg.Release()
	err = agg.ScanAll([]aggregate.Source{{Path: path, Mode: m, Type: t, PID: *pid}})
	if err != nil {
		slog.Error("scanning file", "path", path, "err", err)
		os.Exit(1)
	}
	if err := expose.RenderText(os.Stdout, agg.Finalize(), nil); err != nil {
		slog.Error("rendering", "path", path, "err", err)
		os.Exit(1)
	}
}
