package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/corpus"
	"github.com/ppiankov/policyrag/internal/extract"
	"github.com/ppiankov/policyrag/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const ingestMaxBytes = 10 * 1024 * 1024

var (
	ingestDocID   string
	ingestOut     string
	ingestTimeout time.Duration
	ingestAppend  bool
)

// ingestCmd turns one HTML policy page into corpus paragraphs
var ingestCmd = &cobra.Command{
	Use:   "ingest-html <file-or-url>",
	Short: "Split an HTML policy document into corpus paragraphs",
	Long: `Ingest-html extracts the visible block-level paragraphs of an HTML
document and writes them as paragraphs JSONL, the format the corpus loads.

Paragraph ids are <doc_id>::p<page>::i<index>::<sha12>, so re-ingesting an
unchanged document produces the same ids.

Example:
  policyrag ingest-html handbook/leave.html --out data/processed/paragraphs.jsonl --append
  policyrag ingest-html https://intranet.example.com/policies/remote-work.html --doc-id remote-work`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id (default: derived from the file name or URL)")
	ingestCmd.Flags().StringVar(&ingestOut, "out", "", "output JSONL file (default: stdout)")
	ingestCmd.Flags().BoolVar(&ingestAppend, "append", false, "append to --out instead of truncating it")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 30*time.Second, "fetch timeout for URLs")
}

func runIngest(cmd *cobra.Command, args []string) error {
	src := args[0]
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var (
		body       io.Reader
		docID      = ingestDocID
		sourceFile string
	)

	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := util.NewHTTPClient(ingestTimeout, cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy)
		fetcher := extract.NewFetcher(client, "policyrag/"+Version, ingestMaxBytes, 2)

		res, err := fetcher.Fetch(cmd.Context(), src)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", src, err)
		}
		body = strings.NewReader(res.HTML)
		sourceFile = res.FinalURL
		if docID == "" {
			docID = res.DocID
		}
	} else {
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open %s: %w", src, err)
		}
		defer func() { _ = f.Close() }()
		body = f
		sourceFile = filepath.Base(src)
		if docID == "" {
			docID = extract.DocIDFromURL(sourceFile)
		}
	}

	paragraphs, err := extract.NewParagraphExtractor().Extract(body, docID, sourceFile)
	if err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}
	if len(paragraphs) == 0 {
		return fmt.Errorf("no paragraphs found in %s", src)
	}

	if ingestOut == "" {
		return corpus.WriteJSONL(os.Stdout, paragraphs)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if ingestAppend {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	out, err := os.OpenFile(ingestOut, flags, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ingestOut, err)
	}
	if err := corpus.WriteJSONL(out, paragraphs); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", ingestOut, err)
	}

	logger.Info("ingested",
		zap.String("doc_id", docID),
		zap.Int("paragraphs", len(paragraphs)),
		zap.String("out", ingestOut))
	return nil
}
