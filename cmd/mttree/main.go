// Command mttree drives apply/get/root/prune/iterate against a local
// database, for manual exercising and demos of the tree library.
//
// Usage:
//
//	mttree -db PATH apply  -set key=value [-set key2=value2 ...] [-del key3 ...]
//	mttree -db PATH get    -key KEY [-version N] [-prove]
//	mttree -db PATH root   [-version N]
//	mttree -db PATH prune  [-upto N]
//	mttree -db PATH iterate [-min X] [-max Y] [-desc] [-version N]
//	mttree -version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/larry0x/mttree/store"
	"github.com/larry0x/mttree/store/filedb"
	"github.com/larry0x/mttree/tree"
	"github.com/larry0x/mttree/treeerr"
)

// version and commit are overridable at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the testable entry point: it never calls os.Exit itself.
func run(args []string) int {
	globalFlags := flag.NewFlagSet("mttree", flag.ContinueOnError)
	dbPath := globalFlags.String("db", "mttree.db", "path to the database file")
	verbosity := globalFlags.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := globalFlags.Bool("version", false, "print version and exit")
	globalFlags.SetOutput(os.Stderr)

	if err := globalFlags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("mttree %s (commit %s)\n", version, commit)
		return 0
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "Error: missing subcommand (apply|get|root|prune|iterate)")
		return 2
	}

	log := newLogger(*verbosity)

	db, err := filedb.Open(*dbPath)
	if err != nil {
		log.Error().Err(err).Str("path", *dbPath).Msg("open database")
		return 1
	}
	t := tree.New(db, tree.WithLogger(log))

	ctx := context.Background()
	cmd, cmdArgs := rest[0], rest[1:]

	var cmdErr error
	switch cmd {
	case "apply":
		cmdErr = runApply(ctx, t, db, cmdArgs, log)
	case "get":
		cmdErr = runGet(ctx, t, cmdArgs)
	case "root":
		cmdErr = runRoot(ctx, t, cmdArgs)
	case "prune":
		cmdErr = runPrune(ctx, t, db, cmdArgs, log)
	case "iterate":
		cmdErr = runIterate(ctx, t, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown subcommand %q\n", cmd)
		return 2
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", cmdErr)
		return 1
	}
	return 0
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

type keyValueFlags []string

func (f *keyValueFlags) String() string { return strings.Join(*f, ",") }
func (f *keyValueFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func runApply(ctx context.Context, t *tree.Tree, db *filedb.DB, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	var sets, dels keyValueFlags
	fs.Var(&sets, "set", "key=value pair to insert (repeatable)")
	fs.Var(&dels, "del", "key to delete (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	batch := tree.Batch{}
	for _, kv := range sets {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid -set %q, want key=value", kv)
		}
		batch[parts[0]] = tree.Insert([]byte(parts[1]))
	}
	for _, k := range dels {
		batch[k] = tree.Delete()
	}
	if len(batch) == 0 {
		return fmt.Errorf("apply requires at least one -set or -del")
	}

	if err := t.Apply(ctx, batch); err != nil {
		return err
	}
	if err := db.Save(); err != nil {
		return err
	}

	v, err := t.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	log.Info().Uint64("version", v).Int("ops", len(batch)).Msg("apply: committed")
	fmt.Println(v)
	return nil
}

func runGet(ctx context.Context, t *tree.Tree, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	key := fs.String("key", "", "key to look up")
	version := fs.Uint64("version", 0, "version to query (0 = current)")
	prove := fs.Bool("prove", false, "print a membership/non-membership proof")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return fmt.Errorf("get requires -key")
	}

	var v *uint64
	if *version != 0 {
		v = version
	}
	res, err := t.Get(ctx, []byte(*key), *prove, v)
	if err != nil {
		return err
	}

	if !res.Found {
		fmt.Println("(not found)")
	} else {
		fmt.Printf("%s\n", res.Value)
	}
	if *prove {
		for i, pn := range res.Proof {
			fmt.Printf("proof[%d]: data=%v children=%d\n", i, pn.Data != nil, len(pn.Children))
		}
	}
	return nil
}

func runRoot(ctx context.Context, t *tree.Tree, args []string) error {
	fs := flag.NewFlagSet("root", flag.ContinueOnError)
	version := fs.Uint64("version", 0, "version to query (0 = current)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var v *uint64
	if *version != 0 {
		v = version
	}
	info, err := t.Root(ctx, v)
	if err != nil {
		return err
	}
	fmt.Printf("version=%d root=%s\n", info.Version, info.RootHash)
	return nil
}

func runPrune(ctx context.Context, t *tree.Tree, db *filedb.DB, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	upto := fs.Uint64("upto", 0, "prune orphans through this version (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var bound *uint64
	if *upto != 0 {
		bound = upto
	}
	if err := t.Prune(ctx, bound); err != nil {
		return err
	}
	if err := db.Save(); err != nil {
		return err
	}
	log.Info().Msg("prune: complete")
	return nil
}

func runIterate(ctx context.Context, t *tree.Tree, args []string) error {
	fs := flag.NewFlagSet("iterate", flag.ContinueOnError)
	min := fs.String("min", "", "inclusive lower bound")
	max := fs.String("max", "", "exclusive upper bound")
	desc := fs.Bool("desc", false, "iterate in descending order")
	version := fs.Uint64("version", 0, "version to query (0 = current)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	order := store.Asc
	if *desc {
		order = store.Desc
	}
	var minB, maxB []byte
	if *min != "" {
		minB = []byte(*min)
	}
	if *max != "" {
		maxB = []byte(*max)
	}
	var v *uint64
	if *version != 0 {
		v = version
	}

	it, err := t.Iterate(ctx, order, minB, maxB, v)
	if err != nil {
		if errors.Is(err, treeerr.ErrRootNotFound) {
			return nil
		}
		return err
	}
	for it.Next() {
		fmt.Printf("%s=%s\n", it.Key(), it.Value())
	}
	return it.Err()
}
