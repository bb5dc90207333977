// Command blite is BLite's interactive local REPL — no network surface,
// no client/server protocol (an explicit Non-goal). It opens one
// database file (or an in-memory instance) and lets the operator
// insert/find JSON documents and inspect collections.
//
// Usage:
//
//	blite -db mydata.blite
//	blite                      (temporary in-memory database)
//
// Special commands (prefixed by .):
//
//	.help              show this help
//	.tables            list collections
//	.stats             page cache statistics
//	.checkpoint        flush the WAL and persist the catalog
//	.drop <name>       drop a collection
//	.compact <name>    reclaim space left by deleted documents
//	.quit / .exit      leave the REPL
//
// Data commands:
//
//	insert <collection> <json>
//	find <collection> [blql-json-filter]
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/EntglDb/blite"
	"github.com/EntglDb/blite/document"
	"github.com/EntglDb/blite/mapper"
	"github.com/EntglDb/blite/query"
)

const version = "1.0.0"

func main() {
	dbPath := flag.String("db", "", "database file path (empty = temporary in-memory database)")
	pageSize := flag.Uint("page-size", 0, "page size in bytes for a newly created database (0 = default)")
	flag.Parse()

	fmt.Printf("blite v%s — embedded document database\n", version)
	fmt.Println("Type .help for help, .quit to exit.")
	fmt.Println()

	cfg := blite.Config{PageSize: uint32(*pageSize)}

	var engine *blite.Engine
	var err error
	if *dbPath == "" {
		fmt.Println("in-memory database")
		engine, err = blite.OpenMemory(cfg)
	} else {
		fmt.Printf("database: %s\n", *dbPath)
		engine, err = blite.Open(*dbPath, cfg)
	}
	if err != nil {
		log.Fatalf("open error: %v", err)
	}
	defer engine.Close()

	fmt.Println()

	repl := &repl{engine: engine}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for {
		fmt.Print("blite> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "--") {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if repl.handleCommand(line) {
				break
			}
			continue
		}
		repl.handleDataCommand(line)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
	}
}

type repl struct {
	engine *blite.Engine
}

// handleCommand dispatches a leading-dot command. Returns true when the
// REPL should exit.
func (r *repl) handleCommand(cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit":
		fmt.Println("bye.")
		return true

	case ".help":
		printHelp()

	case ".tables", ".collections":
		names := r.engine.Collections()
		if len(names) == 0 {
			fmt.Println("  (no collections)")
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}

	case ".stats":
		stats := r.engine.Stats()
		fmt.Printf("  page cache:\n")
		fmt.Printf("    capacity : %d pages\n", stats.CacheCapacity)
		fmt.Printf("    size     : %d pages\n", stats.CacheSize)
		fmt.Printf("    hits     : %d\n", stats.CacheHits)
		fmt.Printf("    misses   : %d\n", stats.CacheMisses)
		fmt.Printf("    hit rate : %.1f%%\n", stats.HitRate()*100)

	case ".checkpoint":
		if err := r.engine.Checkpoint(); err != nil {
			fmt.Printf("  checkpoint error: %v\n", err)
		} else {
			fmt.Println("  checkpoint complete")
		}

	case ".drop":
		if len(parts) < 2 {
			fmt.Println("  usage: .drop <collection>")
			break
		}
		if err := r.engine.DropCollection(parts[1]); err != nil {
			fmt.Printf("  drop error: %v\n", err)
		} else {
			fmt.Printf("  dropped %s\n", parts[1])
		}

	case ".compact":
		if len(parts) < 2 {
			fmt.Println("  usage: .compact <collection>")
			break
		}
		r.compact(parts[1])

	case ".version":
		fmt.Printf("  blite v%s\n", version)

	default:
		fmt.Printf("  unknown command: %s (type .help)\n", parts[0])
	}
	return false
}

// handleDataCommand parses "insert <collection> <json>" and
// "find <collection> [blql-json-filter]".
func (r *repl) handleDataCommand(line string) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		fmt.Println("  usage: insert <collection> <json>  |  find <collection> [filter]")
		return
	}

	switch strings.ToLower(fields[0]) {
	case "insert":
		if len(fields) < 3 {
			fmt.Println("  usage: insert <collection> <json>")
			return
		}
		r.insert(fields[1], fields[2])
	case "find":
		filter := "{}"
		if len(fields) == 3 {
			filter = fields[2]
		}
		r.find(fields[1], filter)
	default:
		fmt.Printf("  unknown command: %s (type .help)\n", fields[0])
	}
}

func (r *repl) insert(collection, jsonBody string) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonBody), &raw); err != nil {
		fmt.Printf("  invalid JSON: %v\n", err)
		return
	}

	txnID, err := r.engine.Begin()
	if err != nil {
		fmt.Printf("  begin error: %v\n", err)
		return
	}
	col, err := blite.OpenCollection[*document.Document](r.engine, txnID, collection, mapper.DocumentMapper{})
	if err != nil {
		r.engine.Rollback(txnID)
		fmt.Printf("  open collection error: %v\n", err)
		return
	}
	doc := document.New()
	jsonMapToDoc(raw, doc)
	id, err := col.Insert(txnID, doc)
	if err != nil {
		r.engine.Rollback(txnID)
		fmt.Printf("  insert error: %v\n", err)
		return
	}
	blite.SaveCollection(r.engine, col)
	if err := r.engine.Commit(txnID); err != nil {
		fmt.Printf("  commit error: %v\n", err)
		return
	}
	fmt.Printf("  inserted, id=%x\n", []byte(id))
}

// compact vacuums a collection, reclaiming space left by deleted
// documents. Never run implicitly — an explicit operator command only.
func (r *repl) compact(collection string) {
	txnID, err := r.engine.Begin()
	if err != nil {
		fmt.Printf("  begin error: %v\n", err)
		return
	}
	col, err := blite.OpenCollection[*document.Document](r.engine, txnID, collection, mapper.DocumentMapper{})
	if err != nil {
		r.engine.Rollback(txnID)
		fmt.Printf("  open collection error: %v\n", err)
		return
	}
	reclaimed, err := col.Compact(txnID)
	if err != nil {
		r.engine.Rollback(txnID)
		fmt.Printf("  compact error: %v\n", err)
		return
	}
	blite.SaveCollection(r.engine, col)
	if err := r.engine.Commit(txnID); err != nil {
		fmt.Printf("  commit error: %v\n", err)
		return
	}
	fmt.Printf("  reclaimed %d slot(s)\n", reclaimed)
}

func (r *repl) find(collection, filterJSON string) {
	expr, err := query.ParseFilter([]byte(filterJSON))
	if err != nil {
		fmt.Printf("  filter error: %v\n", err)
		return
	}

	txnID, err := r.engine.Begin()
	if err != nil {
		fmt.Printf("  begin error: %v\n", err)
		return
	}
	defer r.engine.Rollback(txnID)

	col, err := blite.OpenCollection[*document.Document](r.engine, txnID, collection, mapper.DocumentMapper{})
	if err != nil {
		fmt.Printf("  open collection error: %v\n", err)
		return
	}

	model := query.Model[*document.Document]{
		Where: expr,
		Predicate: func(d *document.Document) bool {
			matched, err := query.Evaluate(expr, d)
			return err == nil && matched
		},
	}
	results, err := query.Run(txnID, col, model)
	if err != nil {
		fmt.Printf("  query error: %v\n", err)
		return
	}

	if len(results) == 0 {
		fmt.Println("  (no matches)")
		return
	}
	for _, doc := range results {
		out, _ := json.Marshal(docToMap(doc))
		fmt.Printf("  %s\n", out)
	}
}

// jsonMapToDoc converts a decoded JSON object into a *document.Document,
// recursing into nested objects and arrays.
func jsonMapToDoc(m map[string]interface{}, doc *document.Document) {
	for k, v := range m {
		doc.Set(k, normalizeJSONValue(v))
	}
}

func normalizeJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		sub := document.New()
		jsonMapToDoc(val, sub)
		return sub
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, elem := range val {
			arr[i] = normalizeJSONValue(elem)
		}
		return arr
	case float64:
		if val == float64(int64(val)) {
			return int32(val)
		}
		return val
	default:
		return v
	}
}

// docToMap is jsonMapToDoc's inverse, for printing query results as JSON.
func docToMap(doc *document.Document) map[string]interface{} {
	out := make(map[string]interface{}, len(doc.Fields))
	for _, f := range doc.Fields {
		out[f.Name] = denormalizeValue(f.Value)
	}
	return out
}

func denormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *document.Document:
		return docToMap(val)
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, elem := range val {
			arr[i] = denormalizeValue(elem)
		}
		return arr
	default:
		return val
	}
}

func printHelp() {
	fmt.Println(`
Special commands:
  .help                 show this help
  .tables               list collections
  .stats                page cache statistics
  .checkpoint           flush the WAL and persist the catalog
  .drop <name>          drop a collection
  .compact <name>       reclaim space left by deleted documents
  .quit / .exit         leave the REPL

Data commands:
  insert <collection> <json>
  find <collection> [blql-json-filter]

Examples:
  insert users {"name": "ann", "age": 30}
  find users {"age": {"$gte": 18}}
`)
}
