package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mrsinham/brkraw/cmd/brkraw/gui"
	"github.com/mrsinham/brkraw/internal/bids"
	"github.com/mrsinham/brkraw/internal/convert"
	"github.com/mrsinham/brkraw/internal/dicomexport"
	"github.com/mrsinham/brkraw/internal/preview"
	"github.com/mrsinham/brkraw/internal/pvdataset"
)

// version is set at build time via -ldflags
var version = "dev"

var dtiMethod = regexp.MustCompile(`(?i)dti`)

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
		fmt.Printf("brkraw %s\n", version)
		return
	case "-h", "--help", "help":
		printHelp()
		return
	case "info":
		err = runInfo(os.Args[2:])
	case "tonii":
		err = runToNii(os.Args[2:])
	case "tonii_all":
		err = runToNiiAll(os.Args[2:])
	case "bids_list", "bids_helper":
		err = runBidsList(os.Args[2:])
	case "bids_converter", "bids_convert":
		err = runBidsConvert(os.Args[2:])
	case "todcm":
		err = runToDcm(os.Args[2:])
	case "preview":
		err = runPreview(os.Args[2:])
	case "gui":
		err = runGUI(os.Args[2:])
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

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	fs.Usage = usageFor(fs, "brkraw info <path>")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	path := fs.Arg(0)
	if _, err := os.Stat(path); err == nil {
		return printInfo(path)
	}

	// Not a path: treat the argument as a pattern over the working directory.
	pat, err := regexp.Compile("(?i)" + path)
	if err != nil {
		return fmt.Errorf("%s is neither a path nor a valid pattern: %w", path, err)
	}
	entries, err := os.ReadDir(".")
	if err != nil {
		return err
	}
	matched := false
	for _, e := range entries {
		if !pat.MatchString(e.Name()) {
			continue
		}
		if err := printInfo(e.Name()); err != nil {
			log.Debugf("skip %s: %v", e.Name(), err)
			continue
		}
		matched = true
	}
	if !matched {
		return fmt.Errorf("no dataset matches %q", path)
	}
	return nil
}

func printInfo(path string) error {
	ds, err := pvdataset.Open(path)
	if err != nil {
		return err
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		return fmt.Errorf("%s is not a ParaVision dataset", path)
	}
	return convert.New(ds).Info(os.Stdout)
}

func runToNii(args []string) error {
	fs := flag.NewFlagSet("tonii", flag.ContinueOnError)
	var (
		scanID          = fs.Int("s", 0, "scan id to convert (default: all scans)")
		recoID          = fs.Int("r", 1, "reco id to convert")
		output          = fs.String("o", "", "output filename prefix (default: <subject>_<study>)")
		sidecar         = fs.Bool("b", false, "save a BIDS sidecar json next to each image")
		subjType        = fs.String("t", "", "override the subject type (Biped, Quadruped, Phantom, Other, OtherAnimal)")
		position        = fs.String("p", "", "override the subject position, e.g. Head_Supine")
		ignoreSlope     = fs.Bool("ignore-slope", false, "do not apply the data slope from visu_pars")
		ignoreOffset    = fs.Bool("ignore-offset", false, "do not apply the data offset from visu_pars")
		ignoreRescale   = fs.Bool("ignore-rescale", false, "apply neither slope nor offset")
		ignoreLocalizer = fs.Bool("ignore-localizer", true, "skip scans identified as localizers")
	)
	fs.Usage = usageFor(fs, "brkraw tonii [options] <path>")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	ds, err := pvdataset.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		return fmt.Errorf("%s is not a ParaVision dataset", fs.Arg(0))
	}

	c := convert.New(ds)
	if err := applyOverrides(c, *subjType, *position); err != nil {
		return err
	}
	opts := rescaleOptions(*ignoreSlope, *ignoreOffset, *ignoreRescale)

	prefix := *output
	if prefix == "" {
		prefix = fmt.Sprintf("%s_%s", ds.SubjectID(), ds.StudyID())
	}

	if *scanID > 0 {
		if *ignoreLocalizer {
			if loc, err := c.IsLocalizer(*scanID, *recoID); err == nil && loc {
				fmt.Printf("Identified a localizer, the file will not be converted: ScanID:%d\n", *scanID)
				return nil
			}
		}
		stem := niiStem(fmt.Sprintf("%s-%d-%d", prefix, *scanID, *recoID), scanLabel(ds, *scanID))
		if err := convertScan(c, *scanID, *recoID, opts, stem, *sidecar); err != nil {
			return err
		}
		fmt.Printf("NifTi file is generated... [%s]\n", stem)
		return nil
	}

	for _, id := range ds.Scans() {
		scan, err := ds.Scan(id)
		if err != nil {
			continue
		}
		recos := scan.Recos()
		if len(recos) == 0 {
			continue
		}
		if *ignoreLocalizer {
			if loc, err := c.IsLocalizer(id, recos[0]); err == nil && loc {
				fmt.Printf("Identified a localizer, the file will not be converted: ScanID:%d\n", id)
				continue
			}
		}
		label := scanLabel(ds, id)
		for _, rid := range recos {
			stem := niiStem(fmt.Sprintf("%s-%02d-%d", prefix, id, rid), label)
			if err := convertScan(c, id, rid, opts, stem, *sidecar); err != nil {
				fmt.Printf("Conversion failed: ScanID:%d, RecoID:%d\n", id, rid)
				log.Warnf("convert scan %d reco %d: %v", id, rid, err)
				continue
			}
			fmt.Printf("NifTi file is generated... [%s]\n", stem)
		}
	}
	return nil
}

// convertScan writes the NIfTI file(s) for one reconstruction into the
// working directory, together with diffusion tables and, when requested,
// a sidecar.
func convertScan(c *convert.Converter, scanID, recoID int, opts convert.Options, stem string, sidecar bool) error {
	if _, err := c.SaveNifti(scanID, recoID, opts, ".", stem, "nii.gz"); err != nil {
		return err
	}
	return saveExtras(c, scanID, recoID, ".", stem, sidecar)
}

// saveExtras mirrors what belongs next to a converted image: bval/bvec for
// diffusion methods and the sidecar json when asked for.
func saveExtras(c *convert.Converter, scanID, recoID int, dir, stem string, sidecar bool) error {
	methodName := scanMethod(c.Dataset(), scanID)
	if dtiMethod.MatchString(methodName) {
		if err := c.SaveBdata(scanID, dir, stem); err != nil {
			return err
		}
	}
	if !sidecar {
		return nil
	}
	ref, err := convert.DefaultRefSet().ForModality(sidecarModality(methodName))
	if err != nil {
		return err
	}
	return c.SaveJSON(scanID, recoID, dir, stem, ref, nil)
}

// sidecarModality picks which metadata sections apply when no datasheet
// names the output modality.
func sidecarModality(methodName string) string {
	switch bids.Classify(methodName) {
	case "func":
		return "bold"
	case "fmap":
		return "fieldmap"
	default:
		return ""
	}
}

func scanMethod(ds *pvdataset.Dataset, scanID int) string {
	scan, err := ds.Scan(scanID)
	if err != nil || scan.Method() == nil {
		return ""
	}
	name, err := scan.Method().Text("Method")
	if err != nil {
		return ""
	}
	return name
}

// scanLabel returns the operator-visible scan name with spaces dashed, safe
// to embed in a filename.
func scanLabel(ds *pvdataset.Dataset, scanID int) string {
	scan, err := ds.Scan(scanID)
	if err != nil || scan.Acqp() == nil {
		return ""
	}
	name, err := scan.Acqp().Text("ACQ_scan_name")
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(name, " ", "-")
}

func niiStem(base, label string) string {
	if label == "" {
		return base
	}
	return base + "-" + label
}

func rescaleOptions(slope, offset, rescale bool) convert.Options {
	var opts convert.Options
	if rescale {
		opts.Slope = convert.RescaleIgnore
		opts.Offset = convert.RescaleIgnore
		return opts
	}
	if slope {
		opts.Slope = convert.RescaleIgnore
	}
	if offset {
		opts.Offset = convert.RescaleIgnore
	}
	return opts
}

func applyOverrides(c *convert.Converter, subjType, position string) error {
	if subjType != "" {
		if err := c.OverrideSubjectType(subjType); err != nil {
			return err
		}
	}
	if position != "" {
		if err := c.OverridePosition(position); err != nil {
			return err
		}
	}
	return nil
}

// batchParams carries the shared conversion knobs of tonii_all.
type batchParams struct {
	opts            convert.Options
	sidecar         bool
	ignoreLocalizer bool
	subjType        string
	position        string
	workers         int
}

func runToNiiAll(args []string) error {
	fs := flag.NewFlagSet("tonii_all", flag.ContinueOnError)
	var (
		output          = fs.String("o", "Data", "output directory for the converted tree")
		sidecar         = fs.Bool("b", false, "save BIDS sidecar json files")
		subjType        = fs.String("t", "", "override the subject type (Biped, Quadruped, Phantom, Other, OtherAnimal)")
		position        = fs.String("p", "", "override the subject position, e.g. Head_Supine")
		ignoreSlope     = fs.Bool("ignore-slope", false, "do not apply the data slope from visu_pars")
		ignoreOffset    = fs.Bool("ignore-offset", false, "do not apply the data offset from visu_pars")
		ignoreRescale   = fs.Bool("ignore-rescale", false, "apply neither slope nor offset")
		ignoreLocalizer = fs.Bool("ignore-localizer", false, "skip scans identified as localizers")
		workers         = fs.Int("workers", 0, fmt.Sprintf("parallel conversions (default: %d = CPU cores)", runtime.NumCPU()))
	)
	fs.Usage = usageFor(fs, "brkraw tonii_all [options] <parent>")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	parent := fs.Arg(0)

	names, err := rawDatasets(parent)
	if err != nil {
		return err
	}

	p := batchParams{
		opts:            rescaleOptions(*ignoreSlope, *ignoreOffset, *ignoreRescale),
		sidecar:         *sidecar,
		ignoreLocalizer: *ignoreLocalizer,
		subjType:        *subjType,
		position:        *position,
		workers:         *workers,
	}

	for _, name := range names {
		ds, err := pvdataset.Open(filepath.Join(parent, name))
		if err != nil {
			log.Debugf("open %s: %v", name, err)
			fmt.Printf("%s is not a PvDataset.\n", name)
			continue
		}
		if !ds.IsPvDataset() {
			ds.Close()
			fmt.Printf("%s is not a PvDataset.\n", name)
			continue
		}
		converted, err := convertDataset(ds, *output, p)
		ds.Close()
		if err != nil {
			return err
		}
		if converted {
			fmt.Printf("%s is converted...\n", name)
		} else {
			fmt.Printf("%s does not contain any scan data to convert...\n", name)
		}
	}
	return nil
}

// rawDatasets lists entries under parent that can hold raw data:
// directories plus zip and .PvDatasets archives, sorted by name.
func rawDatasets(parent string) ([]string, error) {
	info, err := os.Stat(parent)
	if err != nil {
		return nil, fmt.Errorf("invalid input path %s: %w", parent, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid input path %s: expected a directory of raw datasets", parent)
	}
	if ds, err := pvdataset.Open(parent); err == nil {
		valid := ds.IsPvDataset()
		ds.Close()
		if valid {
			return nil, fmt.Errorf("%s is raw data itself, pass its parent directory instead (single sessions convert with tonii)", parent)
		}
	}

	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || pvdataset.IsZipFile(filepath.Join(parent, e.Name())) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("invalid input path %s: no raw datasets inside", parent)
	}
	return names, nil
}

type niiTask struct {
	scan, reco int
	dir, stem  string
}

// convertDataset converts every scan of one study into the
// sub-<subject>/ses-<study>/<datatype> tree, fanning reconstructions out
// over a bounded worker pool. It reports false when the study planned no
// conversions at all.
func convertDataset(ds *pvdataset.Dataset, root string, p batchParams) (bool, error) {
	c := convert.New(ds)
	if err := applyOverrides(c, p.subjType, p.position); err != nil {
		return false, err
	}

	base := fmt.Sprintf("sub-%s_ses-%s", ds.SubjectID(), ds.StudyID())
	sessDir := filepath.Join(root, "sub-"+ds.SubjectID(), "ses-"+ds.StudyID())

	var tasks []niiTask
	for _, id := range ds.Scans() {
		scan, err := ds.Scan(id)
		if err != nil {
			continue
		}
		recos := scan.Recos()
		if len(recos) == 0 {
			continue
		}
		if p.ignoreLocalizer {
			if loc, err := c.IsLocalizer(id, recos[0]); err == nil && loc {
				fmt.Printf("Identified a localizer, the file will not be converted: ScanID:%d\n", id)
				continue
			}
		}
		dir := filepath.Join(sessDir, bids.Classify(scanMethod(ds, id)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
		for _, rid := range recos {
			tasks = append(tasks, niiTask{
				scan: id,
				reco: rid,
				dir:  dir,
				stem: fmt.Sprintf("%s_%02d_reco-%02d", base, id, rid),
			})
		}
	}
	if len(tasks) == 0 {
		return false, nil
	}

	workers := p.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	taskCh := make(chan niiTask, len(tasks))
	results := make(chan struct {
		t   niiTask
		err error
	}, len(tasks))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				err := func() error {
					if _, err := c.SaveNifti(t.scan, t.reco, p.opts, t.dir, t.stem, "nii.gz"); err != nil {
						return err
					}
					return saveExtras(c, t.scan, t.reco, t.dir, t.stem, p.sidecar)
				}()
				results <- struct {
					t   niiTask
					err error
				}{t, err}
			}
		}()
	}
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			fmt.Printf("Conversion failed: ScanID:%d, RecoID:%d\n", res.t.scan, res.t.reco)
			log.Warnf("convert scan %d reco %d: %v", res.t.scan, res.t.reco, res.err)
		}
	}
	return true, nil
}

func runBidsList(args []string) error {
	fs := flag.NewFlagSet("bids_list", flag.ContinueOnError)
	var (
		format  = fs.String("f", "csv", "datasheet format: xlsx, csv or tsv (an explicit output extension wins)")
		makeRef = fs.Bool("j", false, "also write a metadata reference json template")
	)
	fs.Usage = usageFor(fs, "brkraw bids_list [options] <parent> <output>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	sheet, err := bids.BuildDatasheet(fs.Arg(0))
	if err != nil {
		return err
	}
	written, err := bids.WriteDatasheet(sheet, fs.Arg(1), *format)
	if err != nil {
		return err
	}
	fmt.Printf("Datasheet is generated... [%s]\n", written)

	if *makeRef {
		refPath := strings.TrimSuffix(written, filepath.Ext(written)) + ".json"
		if err := bids.WriteMetaRef(refPath); err != nil {
			return err
		}
		fmt.Printf("Creating a JSON template for the BIDS metadata (BIDS v%s): %s\n",
			bids.SupportedBidsVersion, refPath)
	}
	fmt.Println("The datasheet reduces BIDS organization work but does not guarantee a valid " +
		"dataset, run an official BIDS validator over the converted tree.")
	return nil
}

func runBidsConvert(args []string) error {
	fs := flag.NewFlagSet("bids_converter", flag.ContinueOnError)
	var (
		refPath       = fs.String("r", "", "metadata reference json controlling the sidecar fields")
		output        = fs.String("o", "", "output directory (default: Data)")
		subjType      = fs.String("t", "", "override the subject type (Biped, Quadruped, Phantom, Other, OtherAnimal)")
		position      = fs.String("p", "", "override the subject position, e.g. Head_Supine")
		ignoreSlope   = fs.Bool("ignore-slope", false, "do not apply the data slope from visu_pars")
		ignoreOffset  = fs.Bool("ignore-offset", false, "do not apply the data offset from visu_pars")
		ignoreRescale = fs.Bool("ignore-rescale", false, "apply neither slope nor offset")
		workers       = fs.Int("workers", 0, fmt.Sprintf("parallel conversions (default: %d = CPU cores)", runtime.NumCPU()))
	)
	fs.Usage = usageFor(fs, "brkraw bids_converter [options] <parent> <datasheet>")
	parseFlags(fs, args)
	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}

	opts := rescaleOptions(*ignoreSlope, *ignoreOffset, *ignoreRescale)
	return bids.Convert(fs.Arg(0), fs.Arg(1), bids.ConvertOptions{
		OutDir:      *output,
		RefPath:     *refPath,
		Workers:     *workers,
		Slope:       opts.Slope,
		Offset:      opts.Offset,
		SubjectType: *subjType,
		Position:    *position,
		Version:     version,
		Out:         os.Stdout,
	})
}

func runToDcm(args []string) error {
	fs := flag.NewFlagSet("todcm", flag.ContinueOnError)
	var (
		scanID  = fs.Int("s", 0, "scan id to export (required)")
		recoID  = fs.Int("r", 1, "reco id to export")
		output  = fs.String("o", "", "output directory (default: <subject>_<study>-<scan>-<reco>)")
		workers = fs.Int("workers", 0, fmt.Sprintf("parallel file writes (default: %d = CPU cores)", runtime.NumCPU()))
	)
	fs.Usage = usageFor(fs, "brkraw todcm -s <scan> [options] <path>")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	if *scanID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -s <scan> is required")
		fs.Usage()
		os.Exit(1)
	}

	ds, err := pvdataset.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		return fmt.Errorf("%s is not a ParaVision dataset", fs.Arg(0))
	}

	c := convert.New(ds)
	imgs, err := c.Images(*scanID, *recoID, convert.Options{})
	if err != nil {
		return err
	}
	vols := make([]*dicomexport.Volume, 0, len(imgs))
	for _, img := range imgs {
		vol, err := dicomexport.FromNifti(img)
		if err != nil {
			return err
		}
		vols = append(vols, vol)
	}
	meta, err := dicomexport.MetaFromDataset(ds, *scanID, *recoID)
	if err != nil {
		return err
	}

	outDir := *output
	if outDir == "" {
		outDir = fmt.Sprintf("%s_%s-%d-%d", ds.SubjectID(), ds.StudyID(), *scanID, *recoID)
	}
	paths, err := dicomexport.Export(vols, meta, outDir, dicomexport.Options{Workers: *workers})
	if err != nil {
		return err
	}
	fmt.Printf("DICOM series is generated... [%s] (%d files)\n", outDir, len(paths))
	return nil
}

func runPreview(args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	var (
		scanID = fs.Int("s", 0, "scan id to render (required)")
		recoID = fs.Int("r", 1, "reco id to render")
		output = fs.String("o", "", "output png path (default: <subject>_<study>-<scan>-<reco>.png)")
	)
	fs.Usage = usageFor(fs, "brkraw preview -s <scan> [options] <path>")
	parseFlags(fs, args)
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	if *scanID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -s <scan> is required")
		fs.Usage()
		os.Exit(1)
	}

	ds, err := pvdataset.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer ds.Close()
	if !ds.IsPvDataset() {
		return fmt.Errorf("%s is not a ParaVision dataset", fs.Arg(0))
	}

	c := convert.New(ds)
	imgs, err := c.Images(*scanID, *recoID, convert.Options{})
	if err != nil {
		return err
	}
	vol, err := preview.FromNifti(imgs[0])
	if err != nil {
		return err
	}
	img, err := preview.Render(vol, preview.Options{
		Montage: true,
		Label:   fmt.Sprintf("%s %d-%d", ds.SubjectID(), *scanID, *recoID),
	})
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = fmt.Sprintf("%s_%s-%d-%d.png", ds.SubjectID(), ds.StudyID(), *scanID, *recoID)
	}
	if err := preview.WritePNG(out, img); err != nil {
		return err
	}
	fmt.Printf("Preview image is generated... [%s]\n", out)
	return nil
}

func runGUI(args []string) error {
	fs := flag.NewFlagSet("gui", flag.ContinueOnError)
	var (
		input   = fs.String("i", "", "dataset to open at launch")
		output  = fs.String("o", "", "output directory for conversions")
		session = fs.String("f", "", "restore a saved session file")
	)
	fs.Usage = usageFor(fs, "brkraw gui [options]")
	parseFlags(fs, args)
	return gui.Run(*input, *output, *session)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  brkraw <command> [arguments]")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	fmt.Fprintln(os.Stderr, "  info            Print a dataset summary")
	fmt.Fprintln(os.Stderr, "  tonii           Convert a scan or a whole session to NIfTI-1")
	fmt.Fprintln(os.Stderr, "  tonii_all       Convert every dataset under a directory")
	fmt.Fprintln(os.Stderr, "  bids_list       Draft a BIDS conversion datasheet")
	fmt.Fprintln(os.Stderr, "  bids_converter  Convert raw datasets into a BIDS tree")
	fmt.Fprintln(os.Stderr, "  todcm           Export a reconstruction as a DICOM series")
	fmt.Fprintln(os.Stderr, "  preview         Render a PNG quick-look of a reconstruction")
	fmt.Fprintln(os.Stderr, "  gui             Browse and convert interactively")
	fmt.Fprintln(os.Stderr, "\nRun 'brkraw <command> -h' for the options of one command.")
}

func printHelp() {
	fmt.Println("brkraw")
	fmt.Println("======")
	fmt.Println()
	fmt.Println("Convert Bruker ParaVision raw datasets to NIfTI-1, BIDS trees, DICOM")
	fmt.Println("series and PNG previews.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  brkraw <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  info            Print the subject block and per-scan protocol summary")
	fmt.Println("  tonii           Convert one scan (-s) or every scan of a session")
	fmt.Println("  tonii_all       Convert every dataset under a parent directory")
	fmt.Println("  bids_list       Draft an editable datasheet for BIDS conversion")
	fmt.Println("  bids_converter  Build a BIDS tree from a curated datasheet")
	fmt.Println("  todcm           Export one reconstruction as a DICOM series")
	fmt.Println("  preview         Render a montage PNG of one reconstruction")
	fmt.Println("  gui             Browse scans and convert interactively")
	fmt.Println()
	fmt.Println("Aliases: bids_helper = bids_list, bids_convert = bids_converter.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Print what a dataset holds (directory or zip archive)")
	fmt.Println("  brkraw info 20230228_083152_rat01_1_1")
	fmt.Println()
	fmt.Println("  # Convert scan 2, reco 1 to NIfTI with a BIDS sidecar")
	fmt.Println("  brkraw tonii -s 2 -b 20230228_083152_rat01_1_1")
	fmt.Println()
	fmt.Println("  # Convert every session under rawdata/ into Data/")
	fmt.Println("  brkraw tonii_all -b -ignore-localizer rawdata")
	fmt.Println()
	fmt.Println("  # Two-step BIDS conversion with a curated datasheet")
	fmt.Println("  brkraw bids_list -j rawdata dataset.xlsx")
	fmt.Println("  brkraw bids_converter -r dataset.json rawdata dataset.xlsx")
	fmt.Println()
	fmt.Println("  # Export scan 3 as DICOM and render a quick-look montage")
	fmt.Println("  brkraw todcm -s 3 20230228_083152_rat01_1_1")
	fmt.Println("  brkraw preview -s 3 -o qa.png 20230228_083152_rat01_1_1")
	fmt.Println()
	fmt.Println("  --help          Show this help message")
	fmt.Println("  --version       Show the version")
}
