package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"nsmeta/pkg/compression"
	"nsmeta/pkg/journal"
	"nsmeta/pkg/metadata"
)

// nsmeta-journal inspects a node's snapshot journal offline.
func main() {
	var (
		mode = flag.String("mode", "dump", "mode: dump, records, codecs")
		dir  = flag.String("dir", "./data/journal", "journal directory")
	)
	flag.Parse()

	j, err := journal.Open(*dir, compression.None, 1<<30)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	switch *mode {
	case "dump":
		err = dump(j)
	case "records":
		err = records(j)
	case "codecs":
		err = codecs(j)
	default:
		log.Fatalf("unknown mode: %s", *mode)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *mode, err)
	}
}

func lastSnapshot(j *journal.Journal) (journal.Record, *metadata.Namespaces, error) {
	rec, ok, err := j.Last()
	if err != nil {
		return rec, nil, err
	}
	if !ok {
		return rec, nil, fmt.Errorf("journal is empty")
	}
	m, err := metadata.DecodeNamespaces(rec.Data)
	if err != nil {
		return rec, nil, fmt.Errorf("decode snapshot %d: %w", rec.Seq, err)
	}
	return rec, m, nil
}

type tableDump struct {
	ID     string               `json:"id"`
	Fields []metadata.FieldView `json:"fields"`
}

// dump prints the live tables and conflicts of the newest snapshot as JSON.
func dump(j *journal.Journal) error {
	rec, m, err := lastSnapshot(j)
	if err != nil {
		return err
	}

	out := struct {
		Seq       uint64              `json:"seq"`
		Tables    int                 `json:"tables"`
		Live      []tableDump         `json:"live"`
		Conflicts []metadata.Conflict `json:"conflicts"`
	}{Seq: rec.Seq, Tables: m.Len(), Conflicts: m.Conflicts()}
	for _, e := range m.Live() {
		out.Live = append(out.Live, tableDump{ID: e.ID.String(), Fields: metadata.Views(e.Table)})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func records(j *journal.Journal) error {
	fmt.Printf("%-10s %12s %8s\n", "Seq", "Size", "Tables")
	return j.Replay(0, func(r journal.Record) error {
		tables := "?"
		if m, err := metadata.DecodeNamespaces(r.Data); err == nil {
			tables = fmt.Sprint(m.Len())
		}
		fmt.Printf("%-10d %12s %8s\n", r.Seq, humanize.Bytes(uint64(len(r.Data))), tables)
		return nil
	})
}

type codecResult struct {
	codec          compression.Codec
	compressedSize int
	compressTime   time.Duration
	decompressTime time.Duration
}

// codecs compresses the newest snapshot with every codec and prints a comparison table.
func codecs(j *journal.Journal) error {
	_, m, err := lastSnapshot(j)
	if err != nil {
		return err
	}
	raw, err := metadata.EncodeNamespaces(m)
	if err != nil {
		return err
	}

	var results []codecResult
	for _, c := range []compression.Codec{compression.None, compression.Gzip, compression.Zstd} {
		start := time.Now()
		wrapped, err := compression.Wrap(c, raw)
		if err != nil {
			fmt.Printf("  %s: compression failed: %v\n", c, err)
			continue
		}
		compressTime := time.Since(start)

		start = time.Now()
		back, err := compression.Unwrap(wrapped)
		if err != nil {
			fmt.Printf("  %s: decompression failed: %v\n", c, err)
			continue
		}
		decompressTime := time.Since(start)

		if len(back) != len(raw) {
			fmt.Printf("  WARNING: %s size mismatch! Original: %d, Decompressed: %d\n", c, len(raw), len(back))
		}
		results = append(results, codecResult{
			codec:          c,
			compressedSize: len(wrapped),
			compressTime:   compressTime,
			decompressTime: decompressTime,
		})
	}

	fmt.Println(strings.Repeat("=", 64))
	fmt.Printf("%-8s %12s %12s %8s %10s %10s\n", "Codec", "Original", "Compressed", "Ratio", "Compress", "Decompress")
	for _, r := range results {
		fmt.Printf("%-8s %12s %12s %7.2fx %10v %10v\n",
			r.codec,
			humanize.Bytes(uint64(len(raw))),
			humanize.Bytes(uint64(r.compressedSize)),
			float64(len(raw))/float64(r.compressedSize),
			r.compressTime,
			r.decompressTime,
		)
	}
	return nil
}
