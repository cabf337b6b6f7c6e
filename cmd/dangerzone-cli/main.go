// Command dangerzone-cli converts an untrusted document into a safe
// PDF. The document never touches a parser on this side: an isolated
// worker rasterizes it and the host rebuilds a PDF from pixels alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/garrettr/dangerzone/conversion"
	"github.com/garrettr/dangerzone/observability"
	_ "github.com/garrettr/dangerzone/ocr/tesseract" // default OCR engine
)

type options struct {
	inputPath  string
	outputPath string
	ocrLang    string
	workerCmd  []string
	devCmd     []string
	dev        bool
	sidecarDir string
	staging    string
	verbose    bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dangerzone-cli: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "dangerzone-cli: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: dangerzone-cli [flags] <document>\n")
		flag.PrintDefaults()
	}
	output := flag.String("output", "", "Safe PDF path (default: <input>-safe.pdf next to the input)")
	ocrLang := flag.String("ocr-lang", "", "OCR the document in this language to make the PDF searchable")
	worker := flag.String("worker", "dangerzone-worker", "Worker command launched for the conversion")
	devWorker := flag.String("dev-worker", "", "Worker command used in dev mode (default: the -worker command with -dev)")
	dev := flag.Bool("dev", false, "Dev mode: teleport the sidecar directory and capture worker debug output")
	sidecar := flag.String("sidecar", "", "Code directory teleported to the worker in dev mode")
	staging := flag.String("staging", "", "Root for per-session staging directories (default: system temp)")
	verbose := flag.Bool("verbose", false, "Log debug detail to stderr")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing document path")
	}
	opts.inputPath = flag.Arg(0)
	opts.outputPath = *output
	opts.ocrLang = *ocrLang
	opts.workerCmd = strings.Fields(*worker)
	opts.dev = *dev
	opts.sidecarDir = *sidecar
	opts.staging = *staging
	opts.verbose = *verbose
	if *devWorker != "" {
		opts.devCmd = strings.Fields(*devWorker)
	} else if opts.dev {
		opts.devCmd = append(append([]string{}, opts.workerCmd...), "-dev")
	}
	if len(opts.workerCmd) == 0 {
		return options{}, fmt.Errorf("empty -worker command")
	}
	return opts, nil
}

func run(opts options) error {
	if opts.dev {
		// Dev environments keep worker settings in a .env file; a
		// missing file is not an error.
		godotenv.Load()
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	doc, err := conversion.NewDocument(opts.inputPath, opts.outputPath)
	if err != nil {
		return err
	}

	converter := conversion.New(conversion.Options{
		WorkerCommand:    opts.workerCmd,
		DevWorkerCommand: opts.devCmd,
		Dev:              opts.dev,
		SidecarDir:       opts.sidecarDir,
		OCRLanguage:      opts.ocrLang,
		StagingRoot:      opts.staging,
		Logger:           logger,
		Progress:         printProgress,
	})

	if err := converter.Convert(context.Background(), doc); err != nil {
		return err
	}
	fmt.Printf("Safe PDF: %s\n", doc.OutputPath)
	return nil
}

func printProgress(doc *conversion.Document, isError bool, text string, percentage float64) {
	if isError {
		fmt.Fprintf(os.Stderr, "%s: %s\n", doc.Name(), text)
		return
	}
	fmt.Printf("%3.0f%% %s\n", percentage, text)
}
