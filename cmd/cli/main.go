package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"rstardb/pkg/common"
	"rstardb/pkg/config"
	"rstardb/pkg/core"
	"rstardb/pkg/knn"
	"rstardb/pkg/relation"
)

const Prompt = "rstar> "

// vectorStore is a relation the shell can write to.
type vectorStore interface {
	relation.Iterable
	Put(id common.ObjectID, vec []float64) error
}

type shell struct {
	idx    *core.Index
	rel    vectorStore
	nextID common.ObjectID
}

func main() {
	configPath := flag.String("config", "", "Path to rstar.yaml (default: search configs/rstar.yaml, rstar.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		return
	}

	rel, err := core.OpenRelation(cfg)
	if err != nil {
		fmt.Printf("Relation error: %v\n", err)
		return
	}
	store, ok := rel.(vectorStore)
	if !ok {
		fmt.Printf("Relation %q is read-only\n", cfg.Storage.Relation)
		return
	}

	idx, err := core.Open(cfg, rel)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() {
		if err := idx.Close(); err != nil {
			fmt.Printf("Close failed: %v\n", err)
		}
		if c, ok := rel.(io.Closer); ok {
			c.Close()
		}
	}()

	sh := &shell{idx: idx, rel: store, nextID: 1}
	if ids, err := relation.IDs(rel); err == nil && len(ids) > 0 {
		sh.nextID = ids[len(ids)-1] + 1
	}

	fmt.Printf("R*-tree shell (backend: %s, objects: %d)\n", cfg.Storage.Backend, idx.Len())
	fmt.Println("Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "load":
			sh.handleLoad(parts)
		case "put", "insert":
			sh.handlePut(parts)
		case "del", "rm":
			sh.handleDel(parts)
		case "knn":
			sh.handleKNN(parts)
		case "near":
			sh.handleNear(parts)
		case "range":
			sh.handleRange(parts)
		case "stats":
			sh.handleStats(parts)
		case "check":
			sh.handleCheck()
		case "snapshot", "save":
			sh.handleSnapshot(parts)
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q", f)
		}
		out[i] = v
	}
	return out, nil
}

// handleLoad reads a CSV file of "x,y,..." rows, or "id,x,y,..." rows with
// -ids, stores the vectors and indexes them in one batch.
func (sh *shell) handleLoad(parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: load <file.csv> [-ids]")
		return
	}
	withIDs := len(parts) > 2 && parts[2] == "-ids"

	f, err := os.Open(parts[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'

	var ids []common.ObjectID
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		id := sh.nextID
		if withIDs {
			n, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
			if err != nil {
				fmt.Printf("Error: line %d: bad id %q\n", line, row[0])
				return
			}
			id, row = common.ObjectID(n), row[1:]
		}
		vec, err := parseFloats(row)
		if err != nil {
			fmt.Printf("Error: line %d: %v\n", line, err)
			return
		}
		if err := sh.rel.Put(id, vec); err != nil {
			fmt.Printf("Error: line %d: %v\n", line, err)
			return
		}
		ids = append(ids, id)
		if id >= sh.nextID {
			sh.nextID = id + 1
		}
	}

	start := time.Now()
	if err := sh.idx.InsertAll(ids); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Loaded %d objects (%v)\n", len(ids), time.Since(start))
}

func (sh *shell) handlePut(parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: put <id> <x> [y ...]")
		return
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: id must be an integer (e.g., 1001)")
		return
	}
	vec, err := parseFloats(parts[2:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	id := common.ObjectID(n)

	start := time.Now()
	// drop the entry at the old position before the vector is replaced
	if _, err := sh.idx.Delete(id); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if err := sh.rel.Put(id, vec); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if err := sh.idx.Insert(id); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if id >= sh.nextID {
		sh.nextID = id + 1
	}
	fmt.Printf("OK (%v)\n", time.Since(start))
}

func (sh *shell) handleDel(parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: del <id>")
		return
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		fmt.Println("Error: id must be an integer")
		return
	}

	start := time.Now()
	ok, err := sh.idx.Delete(common.ObjectID(n))
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v\n", err)
	case !ok:
		fmt.Printf("Not found (%v)\n", duration)
	default:
		fmt.Printf("Deleted (%v)\n", duration)
	}
}

func (sh *shell) handleKNN(parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: knn <k> <x> [y ...]")
		return
	}
	k, err := strconv.Atoi(parts[1])
	if err != nil {
		fmt.Println("Error: k must be an integer")
		return
	}
	point, err := parseFloats(parts[2:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	res, err := sh.idx.KNNQuery(point, k)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printPairs(res.Pairs(), time.Since(start))
}

func (sh *shell) handleNear(parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: near <id> <k>")
		return
	}
	n, err1 := strconv.ParseInt(parts[1], 10, 64)
	k, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		fmt.Println("Error: id and k must be integers")
		return
	}

	start := time.Now()
	res, err := sh.idx.KNNForID(common.ObjectID(n), k)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printPairs(res.Pairs(), time.Since(start))
}

func (sh *shell) handleRange(parts []string) {
	if len(parts) < 3 {
		fmt.Println("Usage: range <radius> <x> [y ...]")
		return
	}
	radius, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		fmt.Println("Error: radius must be a number")
		return
	}
	point, err := parseFloats(parts[2:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	res, err := sh.idx.RangeQuery(point, radius)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printPairs(res.Pairs(), time.Since(start))
}

func printPairs(pairs []knn.Pair, duration time.Duration) {
	fmt.Printf("Found %d objects (%v):\n", len(pairs), duration)
	for i, p := range pairs {
		if i >= 20 {
			fmt.Printf("... and %d more\n", len(pairs)-20)
			break
		}
		fmt.Printf("  [%d] %.6g\n", p.ID, p.Dist)
	}
}

func (sh *shell) handleStats(parts []string) {
	if len(parts) > 1 && strings.EqualFold(parts[1], "reset") {
		sh.idx.ResetStats()
		fmt.Println("OK")
		return
	}
	stats := sh.idx.Stats()
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-18s %v\n", k, stats[k])
	}
}

func (sh *shell) handleCheck() {
	start := time.Now()
	if err := sh.idx.Check(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("OK (%v)\n", time.Since(start))
}

func (sh *shell) handleSnapshot(parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: snapshot <file>")
		return
	}
	if err := sh.idx.Snapshot(parts[1]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Snapshot written to %s\n", parts[1])
}

func printHelp() {
	fmt.Println(`
Commands:
  load <file.csv> [-ids]   Load points (x,y,... or id,x,y,... rows)
  put <id> <x> [y ...]     Store and index one point
  del <id>                 Remove an object from the index
  knn <k> <x> [y ...]      k nearest neighbours (ties included)
  near <id> <k>            k nearest neighbours of a stored object
  range <r> <x> [y ...]    Objects within distance r
  stats [reset]            Index and IO counters, or zero them
  check                    Verify tree invariants
  snapshot <file>          Write a read-only snapshot
  exit                     Exit shell
	`)
}
