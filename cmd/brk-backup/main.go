package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/internal/backup"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	if os.Getenv("BRKRAW_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "-v", "--version", "version":
		fmt.Printf("brk-backup %s\n", version)
		return
	case "-h", "--help", "help":
		printHelp()
		return
	case "archived":
		err = runArchived(os.Args[2:])
	case "review":
		err = runReview(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "clean":
		err = runClean(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags exits on bad input; the flag package has already printed the
// problem and the usage by then.
func parseFlags(fs *flag.FlagSet, args []string) {
	err := fs.Parse(args)
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	os.Exit(1)
}

func usageFor(fs *flag.FlagSet, line string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: %s\n", line)
		fs.PrintDefaults()
	}
}

// scanHandler pairs the two directories and reconciles the archive cache.
func scanHandler(rawDir, arcDir string) (*backup.Handler, error) {
	h, err := backup.New(rawDir, arcDir)
	if err != nil {
		return nil, err
	}
	if err := h.Scan(); err != nil {
		return nil, err
	}
	return h, nil
}

// logName builds the timestamped report filename for one command.
func logName(kind string) string {
	now := time.Now().Format("20060102-150405")
	if kind == "" {
		return fmt.Sprintf("brk-backup_%s.log", now)
	}
	return fmt.Sprintf("brk-backup_%s_%s.log", kind, now)
}

// writeReport runs the report into the named log file instead of stdout.
func writeReport(path string, report func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Backup report is generated... [%s]\n", path)
	return nil
}

func runArchived(args []string) error {
	fs := flag.NewFlagSet("archived", flag.ContinueOnError)
	logging := fs.Bool("l", false, "write the report to a timestamped log file")
	fs.Usage = usageFor(fs, "brk-backup archived [-l] <raw> <backup>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	h, err := scanHandler(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if *logging {
		return writeReport(logName("archived"), h.PrintCompleted)
	}
	return h.PrintCompleted(os.Stdout)
}

func runReview(args []string) error {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	logging := fs.Bool("l", false, "write the report to a timestamped log file")
	fs.Usage = usageFor(fs, "brk-backup review [-l] <raw> <backup>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	h, err := scanHandler(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if *logging {
		return writeReport(logName("review"), h.PrintStatus)
	}
	return h.PrintStatus(os.Stdout)
}

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	logging := fs.Bool("l", false, "write the progress log to a timestamped file")
	fs.Usage = usageFor(fs, "brk-backup backup [-l] <raw> <backup>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	h, err := scanHandler(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if *logging {
		return writeReport(logName(""), h.Backup)
	}
	return h.Backup(os.Stdout)
}

func runClean(args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	logging := fs.Bool("l", false, "write the removal summary to a timestamped log file")
	fs.Usage = usageFor(fs, "brk-backup clean [-l] <raw> <backup>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	h, err := scanHandler(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	if *logging {
		return writeReport(logName("clean"), h.Clean)
	}
	return h.Clean(os.Stdout)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  brk-backup <command> <raw> <backup>")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  archived  Report which raw studies are archived already")
	fmt.Fprintln(os.Stderr, "  review    Report conflicts between raw studies and archives")
	fmt.Fprintln(os.Stderr, "  backup    Archive every raw study that needs it")
	fmt.Fprintln(os.Stderr, "  clean     Remove archives flagged as broken or duplicated")
	fmt.Fprintln(os.Stderr, "\nRun 'brk-backup <command> -h' for the options of one command.")
}

func printHelp() {
	fmt.Println("brk-backup")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("Archive Bruker ParaVision raw studies as zip files and keep both")
	fmt.Println("sides reconciled through a cache stored next to the archives.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  brk-backup <command> <raw> <backup>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  archived  List raw studies whose archive is complete")
	fmt.Println("  review    Show what still needs archiving and what went wrong")
	fmt.Println("  backup    Compress raw studies missing from the backup side")
	fmt.Println("  clean     Interactively remove broken or duplicated archives")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Check which studies are archived already")
	fmt.Println("  brk-backup archived /data/raw /data/backup")
	fmt.Println()
	fmt.Println("  # Review both sides, keeping the report as a file")
	fmt.Println("  brk-backup review -l /data/raw /data/backup")
	fmt.Println()
	fmt.Println("  # Archive everything that needs it")
	fmt.Println("  brk-backup backup /data/raw /data/backup")
	fmt.Println()
	fmt.Println("  # Remove archives flagged during review, one confirmation each")
	fmt.Println("  brk-backup clean /data/raw /data/backup")
	fmt.Println()
	fmt.Println("  --help          Show this help message")
	fmt.Println("  --version       Show the version")
}
