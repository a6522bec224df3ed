// Command crawl runs one discovery pass against the given seeds and
// prints the deduplicated result as JSON. Useful for checking what a
// dashboard deployment would see before pointing it at a network.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"pglobe/pkg/discovery"
	"pglobe/pkg/logging"
	"pglobe/pkg/model"
	"pglobe/pkg/prpc"
	"pglobe/pkg/store"
)

func main() {
	seeds := flag.String("seeds", "", "comma-separated seed node addresses (host:port)")
	rounds := flag.Int("rounds", 3, "expansion round cap")
	timeout := flag.Duration("timeout", 25*time.Second, "per-query timeout")
	overall := flag.Duration("overall", 5*time.Minute, "whole-crawl deadline")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	log, err := logging.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var seedList []string
	for _, part := range strings.Split(*seeds, ",") {
		if part = strings.TrimSpace(part); part != "" {
			seedList = append(seedList, part)
		}
	}
	if len(seedList) == 0 {
		fmt.Fprintln(os.Stderr, "usage: crawl -seeds host:port[,host:port...]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *overall)
	defer cancel()

	crawler := discovery.NewCrawler(prpc.NewClient(log), discovery.Config{
		Seeds:        seedList,
		RoundCap:     *rounds,
		QueryTimeout: *timeout,
	}, log)
	res := crawler.Crawl(ctx)
	if len(res.Nodes) == 0 {
		log.Error("crawl found nothing", zap.Int("queried", res.Queried))
		os.Exit(1)
	}

	nodes := make([]*model.NodeRecord, 0, len(res.Nodes))
	for _, rec := range res.Nodes {
		nodes = append(nodes, rec)
	}
	sort.Slice(nodes, func(i, j int) bool { return store.Key(nodes[i]) < store.Key(nodes[j]) })

	out := map[string]interface{}{
		"rounds":    res.Rounds,
		"queried":   res.Queried,
		"responded": res.Responded,
		"count":     len(nodes),
		"nodes":     nodes,
	}
	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatal("encode failed", zap.Error(err))
	}
}
