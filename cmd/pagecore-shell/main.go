// Command pagecore-shell is an interactive operator console for a
// single pagecore database file: it wires together the disk manager,
// write-ahead log hook, buffer pool, and catalog, then exposes the
// B+tree index operations as line commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lattice-db/pagecore/pkg/logger"
	"github.com/lattice-db/pagecore/pkg/telemetry"
	"github.com/lattice-db/pagecore/storage/buffer"
	"github.com/lattice-db/pagecore/storage/catalog"
	"github.com/lattice-db/pagecore/storage/disk"
	"github.com/lattice-db/pagecore/storage/index/bptree"
	"github.com/lattice-db/pagecore/storage/wal"
)

const defaultIndex = "default"

func main() {
	dbPath := flag.String("db", "pagecore.db", "path to the database file")
	create := flag.Bool("create", false, "create the database file if it does not exist")
	pageSize := flag.Int("page-size", 4096, "page size in bytes; without -create it must match the file's page size")
	poolSize := flag.Int("pool-size", 64, "number of buffer pool frames")
	lruK := flag.Int("lru-k", 2, "k for the LRU-K replacer")
	leafMaxSize := flag.Int("leaf-max-size", 128, "max entries per leaf page")
	internalMaxSize := flag.Int("internal-max-size", 128, "max children per internal page")
	promPort := flag.Int("metrics-port", 9090, "Prometheus /metrics port (0 disables)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "log encoding: console or json")
	logOutput := flag.String("log-output", "stdout", "log destination: stdout, stderr, or a file path")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: *logFormat, OutputFile: *logOutput})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	sessionID := uuid.NewString()
	log = log.With(zap.String("session_id", sessionID))

	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *promPort > 0,
		ServiceName:    "pagecore-shell",
		PrometheusPort: *promPort,
	})
	if err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}
	defer shutdown(context.Background())

	diskMgr, err := disk.Open(*dbPath, *pageSize, *create, log)
	if err != nil {
		log.Fatal("opening database file", zap.Error(err))
	}
	defer diskMgr.Close()

	walMgr, err := wal.Open(*dbPath+".wal", log)
	if err != nil {
		log.Fatal("opening write-ahead log", zap.Error(err))
	}
	defer walMgr.Close()

	metrics, err := buffer.NewMetrics(tel.Meter)
	if err != nil {
		log.Fatal("registering buffer pool metrics", zap.Error(err))
	}
	pool := buffer.New(*poolSize, *lruK, diskMgr, walMgr, log, metrics)

	cat, err := catalog.Open(pool, log)
	if err != nil {
		log.Fatal("opening catalog", zap.Error(err))
	}

	sh := &shell{
		log:             log,
		pool:            pool,
		cat:             cat,
		leafMaxSize:     *leafMaxSize,
		internalMaxSize: *internalMaxSize,
		trees:           make(map[string]*bptree.BTree[int64, bptree.RID]),
	}
	sh.openOrCreate(defaultIndex)

	rl, err := readline.New("pagecore> ")
	if err != nil {
		log.Fatal("starting readline", zap.Error(err))
	}
	defer rl.Close()

	log.Info("pagecore-shell ready", zap.String("db", *dbPath))
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "readline:", err)
			break
		}
		sh.dispatch(strings.Fields(line))
	}

	pool.FlushAllPages()
}

// shell holds the storage stack and the set of indexes opened so far,
// each identified by name through the catalog.
type shell struct {
	log             *zap.Logger
	pool            *buffer.Pool
	cat             *catalog.Catalog
	leafMaxSize     int
	internalMaxSize int
	trees           map[string]*bptree.BTree[int64, bptree.RID]
}

func (s *shell) openOrCreate(name string) *bptree.BTree[int64, bptree.RID] {
	if t, ok := s.trees[name]; ok {
		return t
	}
	t := bptree.New[int64, bptree.RID](name, s.pool, bptree.Int64Key{}, bptree.RIDCodec{}, s.leafMaxSize, s.internalMaxSize, s.log)
	if rootID, ok := s.cat.RootOf(name); ok {
		t.Adopt(rootID)
	}
	s.trees[name] = t
	return t
}

func (s *shell) syncCatalog(name string, t *bptree.BTree[int64, bptree.RID]) {
	if !t.IsEmpty() {
		if err := s.cat.SetRoot(name, t.GetRootPageId()); err != nil {
			s.log.Error("persisting catalog entry", zap.Error(err), zap.String("index", name))
		}
	}
}

func (s *shell) dispatch(args []string) {
	if len(args) == 0 {
		return
	}
	tree := s.openOrCreate(defaultIndex)

	switch strings.ToLower(args[0]) {
	case "put":
		if len(args) != 3 {
			fmt.Println("usage: put <key> <value>")
			return
		}
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("bad key:", err)
			return
		}
		slot, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			fmt.Println("bad value:", err)
			return
		}
		ok, err := tree.Insert(key, bptree.RID{Slot: uint32(slot)})
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if !ok {
			fmt.Println("key already exists")
			return
		}
		s.syncCatalog(defaultIndex, tree)
		fmt.Println("OK")

	case "get":
		if len(args) != 2 {
			fmt.Println("usage: get <key>")
			return
		}
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("bad key:", err)
			return
		}
		v, found, err := tree.GetValue(key)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if !found {
			fmt.Println("not found")
			return
		}
		fmt.Println(v.Slot)

	case "del":
		if len(args) != 2 {
			fmt.Println("usage: del <key>")
			return
		}
		key, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("bad key:", err)
			return
		}
		ok, err := tree.Remove(key)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		s.syncCatalog(defaultIndex, tree)
		if !ok {
			fmt.Println("not found")
			return
		}
		fmt.Println("OK")

	case "range":
		if len(args) != 3 {
			fmt.Println("usage: range <from> <to>")
			return
		}
		from, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("bad from:", err)
			return
		}
		to, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Println("bad to:", err)
			return
		}
		it, err := tree.BeginAt(from)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		for it.Valid() && it.Key() <= to {
			fmt.Printf("%d -> %d\n", it.Key(), it.Value().Slot)
			it.Next()
		}
		it.Close()

	case "dump":
		fmt.Println(tree.Draw())

	case "stats":
		fmt.Printf("pool size: %d frames\npage size: %d bytes\nindexes: %s\n",
			s.pool.PoolSize(), s.pool.PageSize(), strings.Join(s.cat.Names(), ", "))

	case "help":
		fmt.Println("commands: put <key> <value> | get <key> | del <key> | range <from> <to> | dump | stats | help | exit")

	case "exit", "quit":
		s.pool.FlushAllPages()
		os.Exit(0)

	default:
		fmt.Println("unknown command, type 'help'")
	}
}
