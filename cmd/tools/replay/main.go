package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"main/internal/persist"
	"main/internal/schema"
)

// replay prints a recorded session journal: per-kind counts plus an
// optional line-by-line dump.
func main() {
	dir := flag.String("dir", "journal", "Journal directory (latest session is used)")
	file := flag.String("file", "", "Session file (overrides -dir)")
	decode := flag.Bool("decode", false, "Print every line decoded")
	flag.Parse()

	path := *file
	if path == "" {
		latest, err := latestSession(*dir)
		if err != nil {
			log.Fatalf("resolve session: %v", err)
		}
		path = latest
	}

	var (
		counts   = make(map[string]int)
		total    int
		firstTs  int64
		lastTs   int64
		fills    int
		realized schema.Notional
		last     *schema.StatusEvent
	)
	err := persist.ReadJournal(path, func(line persist.Line) error {
		total++
		counts[line.Kind]++
		if firstTs == 0 {
			firstTs = line.TsNano
		}
		lastTs = line.TsNano
		if line.Trade != nil {
			fills++
			realized += line.Trade.RealizedPnl
		}
		if line.Status != nil {
			last = line.Status
		}
		if *decode {
			printLine(total, line)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("read journal failed: %v", err)
	}

	fmt.Printf("session: %s\n", path)
	fmt.Printf("events: %d span=%s\n", total, span(firstTs, lastTs))
	for _, kind := range sortedKinds(counts) {
		fmt.Printf("  %-14s %d\n", kind, counts[kind])
	}
	fmt.Printf("fills: %d realized=%d\n", fills, realized)
	if last != nil {
		fmt.Printf("final: position=%d equity=%d realized=%d\n", last.PositionQty, last.Equity, last.RealizedPnl)
	}
}

func latestSession(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "session-*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no session files in %s", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func sortedKinds(counts map[string]int) []string {
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func span(first, last int64) time.Duration {
	if last <= first {
		return 0
	}
	return time.Duration(last - first)
}

func printLine(index int, line persist.Line) {
	payload, err := json.Marshal(line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%06d encode failed: %v\n", index, err)
		return
	}
	fmt.Printf("%06d %s\n", index, payload)
}
