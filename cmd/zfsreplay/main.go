// main.go - zfsreplay: replay one directory-tree diff onto a live target
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package main

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/opencoff/go-logger"
	flag "github.com/opencoff/pflag"

	"github.com/opencoff/zfsreplay/apply"
	"github.com/opencoff/zfsreplay/match"
	"github.com/opencoff/zfsreplay/oracle"
)

var Z = path.Base(os.Args[0])

func main() {
	var help, dryRun, followSymlinks, oneFS bool
	var verbose int
	var threads, concurrency int
	var modeStr, snapA, snapB, logFile, genOracleCmd, zdbCmd string
	var excludes []string

	fs := flag.NewFlagSet(Z, flag.ExitOnError)

	fs.BoolVarP(&help, "help", "h", false, "Show help and exit [False]")
	fs.BoolVarP(&dryRun, "dry-run", "n", false, "Log the plan without touching the target [False]")
	fs.IntVarP(&verbose, "verbose", "v", 1, "Set log verbosity to `N`")
	fs.IntVarP(&threads, "threads", "t", 0, "Use `N` worker threads for the parallel phase [NumCPU]")
	fs.IntVarP(&concurrency, "walk-concurrency", "", 0, "Use `N` go-routines per tree walk [NumCPU]")
	fs.StringVarP(&modeStr, "mode", "m", "cow", "Pair-matching `mode`: pathonly, linked or cow")
	fs.StringVarP(&snapA, "snap-a", "", "", "Dataset@snapshot `name` for the A side (COW mode)")
	fs.StringVarP(&snapB, "snap-b", "", "", "Dataset@snapshot `name` for the B side (COW mode)")
	fs.StringSliceVarP(&excludes, "exclude", "x", nil, "Exclude entries matching shell glob `pattern`")
	fs.BoolVarP(&followSymlinks, "follow-symlinks", "L", false, "Follow symlinks during tree walks [False]")
	fs.BoolVarP(&oneFS, "one-fs", "", false, "Don't cross mount points during tree walks [False]")
	fs.StringVarP(&logFile, "log", "", "", "Write log output to `file` [stderr]")
	fs.StringVarP(&genOracleCmd, "gen-oracle-cmd", "", "", "Generation-oracle helper `binary` [zfsreplay-genoracle]")
	fs.StringVarP(&zdbCmd, "zdb-cmd", "", "", "zdb `binary` to use for the block-identity oracle [zdb]")

	fs.SetOutput(os.Stdout)

	if err := fs.Parse(os.Args[1:]); err != nil {
		die("%s", err)
	}

	if help {
		usage(fs)
	}

	args := fs.Args()
	if len(args) != 3 {
		die("Usage: %s [options] A-root B-root target-root", Z)
	}
	aRoot, bRoot, tRoot := args[0], args[1], args[2]

	mode, err := parseMode(modeStr)
	if err != nil {
		die("%s", err)
	}

	if mode == match.COW && (snapA == "" || snapB == "") {
		die("cow mode requires --snap-a and --snap-b")
	}

	log, err := logger.NewLogger(logFile, logger.LOG_DEBUG, Z,
		logger.Ldate|logger.Ltime|logger.Lmicroseconds|logger.Lfileloc)
	if err != nil {
		die("can't create logger: %s", err)
	}
	defer log.Close()

	genOracle := oracle.NewGenerationOracle(genOracleCmd)
	defer genOracle.Close()

	cfg := apply.Config{
		ARoot: aRoot,
		BRoot: bRoot,
		TRoot: tRoot,

		Mode:  mode,
		SnapA: snapA,
		SnapB: snapB,

		Concurrency:    concurrency,
		FollowSymlinks: followSymlinks,
		OneFS:          oneFS,
		Excludes:       excludes,

		Threads: threads,

		GenOracle:   genOracle,
		BlockOracle: oracle.NewBlockOracle(zdbCmd),

		Log:       log,
		DryRun:    dryRun,
		Verbosity: verbose,
	}

	if err := apply.Apply(context.Background(), cfg); err != nil {
		die("%s", err)
	}
}

func parseMode(s string) (match.Mode, error) {
	switch s {
	case "pathonly":
		return match.PATH_ONLY, nil
	case "linked":
		return match.LINKED, nil
	case "cow":
		return match.COW, nil
	default:
		return 0, fmt.Errorf("unknown mode %q: want pathonly, linked or cow", s)
	}
}

func usage(fs *flag.FlagSet) {
	fmt.Printf(usageStr, Z, Z)
	fs.PrintDefaults()
	os.Exit(1)
}

func die(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", Z, fmt.Sprintf(format, v...))
	os.Exit(1)
}

var usageStr = `%s - replay a directory-tree diff onto a live target as a native snapshot chain.

Usage: %s [options] A-root B-root target-root

A-root and B-root are two historical snapshots of the same tree; target-root
is the live mutable copy, already byte-equivalent to A-root. On success,
target-root becomes byte-equivalent to B-root - the caller is responsible for
taking a native snapshot of it afterwards.

Options:
`
