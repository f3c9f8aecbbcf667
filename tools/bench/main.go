package main

import (
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/felixge/fgprof"
	"github.com/prometheus/prometheus/model/labels"
	"golang.org/x/sync/errgroup"

	"github.com/gernest/mmprom/aggregate"
	"github.com/gernest/mmprom/expose"
	"github.com/gernest/mmprom/store"
)

var (
	workers = flag.Int("workers", 4, "concurrent writers, one file each")
	series  = flag.Int("series", 1000, "distinct series per writer")
	updates = flag.Int("updates", 100, "value updates per series")
	dir     = flag.String("dir", "", "working directory, a temp dir when empty")
	pprof   = flag.String("pprof", "", "listen address for the fgprof endpoint")
)

func main() {
	flag.Parse()
	if *pprof != "" {
		http.Handle("/debug/fgprof", fgprof.Handler())
		go func() {
			if err := http.ListenAndServe(*pprof, nil); err != nil {
				slog.Error("profile endpoint", "addr", *pprof, "err", err)
			}
		}()
	}

	work := *dir
	if work == "" {
		tmp, err := os.MkdirTemp("", "mmprom-bench-")
		if err != nil {
			slog.Error("creating working directory", "err", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		work = tmp
	}

	start := time.Now()
	g := new(errgroup.Group)
	for w := range *workers {
		g.Go(func() error {
			return write(work, w)
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("writing", "err", err)
		os.Exit(1)
	}
	writing := time.Since(start)

	srcs := make([]aggregate.Source, 0, *workers)
	var stored int64
	for w := range *workers {
		path := worker(work, w)
		stat, err := os.Stat(path)
		if err != nil {
			slog.Error("stating file", "path", path, "err", err)
			os.Exit(1)
		}
		stored += stat.Size()
		srcs = append(srcs, aggregate.Source{
			Path: path,
			Type: aggregate.Counter,
			PID:  strconv.Itoa(w),
		})
	}

	start = time.Now()
	agg := aggregate.Get(slog.Default())
	defer agg.Release()
	if err := agg.ScanAll(srcs); err != nil {
		slog.Error("scanning", "err", err)
		os.Exit(1)
	}
	entries := agg.Finalize()
	scanning := time.Since(start)

	var text, proto bytes.Buffer
	start = time.Now()
	if err := expose.RenderText(&text, entries, nil); err != nil {
		slog.Error("rendering text", "err", err)
		os.Exit(1)
	}
	rendering := time.Since(start)
	start = time.Now()
	if err := expose.RenderProto(&proto, entries, nil); err != nil {
		slog.Error("rendering proto", "err", err)
		os.Exit(1)
	}
	encoding := time.Since(start)

	fmt.Printf("writers %d series %d updates %d\n", *workers, *series, *updates)
	fmt.Printf("stored  %v in %d files\n", units.BytesSize(float64(stored)), *workers)
	fmt.Printf("write   %v\n", writing)
	fmt.Printf("scan    %v for %d entries\n", scanning, len(entries))
	fmt.Printf("text    %v for %v\n", rendering, units.BytesSize(float64(text.Len())))
	fmt.Printf("proto   %v for %v\n", encoding, units.BytesSize(float64(proto.Len())))
}

func worker(dir string, w int) string {
	return filepath.Join(dir, fmt.Sprintf("counter_%d.db", w))
}

func write(dir string, w int) error {
	st, err := store.Open(worker(dir, w))
	if err != nil {
		return err
	}
	defer st.Close()

	wl := strconv.Itoa(w)
	for s := range *series {
		key, err := store.Key("bench_total", "bench_total",
			labels.FromStrings("series", strconv.Itoa(s), "worker", wl))
		if err != nil {
			return err
		}
		for u := range *updates {
			if err := st.Upsert(key, float64(u+1)); err != nil {
				return err
			}
		}
	}
	return st.Flush(false)
}
