// exporter_inspect reports on the contents of an exported artifact directory:
// manifest summary, variables, endpoints, signatures and assets, plus an
// explicit weights checksum verification.
//
// Usage:
//
//	exporter_inspect [flags] <artifact_dir>
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exporter/bundle"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", true, "Display the artifact summary: id, runtime, sizes.")
	flagVars    = flag.Bool("vars", false, "Lists the stored variables with shapes and sizes.")
	flagEndpoints = flag.Bool("endpoints", false,
		"Lists the endpoints with their signatures and serialization form.")
	flagAssets = flag.Bool("assets", false, "Lists the stored assets.")
	flagVerify = flag.Bool("verify", false,
		"Re-reads the weights file and checks it against the manifest checksum, with a progress bar.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing artifact directory to read from. See 'exporter_inspect -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'exporter_inspect -help'.")
		os.Exit(1)
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		})
}

func report(artifactPath string) {
	b := must.M1(bundle.Read(artifactPath))
	manifest := &b.Manifest

	if *flagSummary {
		var trainable int
		for _, record := range manifest.Variables {
			if record.Trainable {
				trainable++
			}
		}
		table := newPlainTable(false)
		table.Row("artifact", artifactPath)
		table.Row("id", manifest.ID)
		table.Row("created", manifest.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		table.Row("runtime", manifest.Runtime)
		if manifest.Accelerator != "" {
			table.Row("accelerator", manifest.Accelerator)
		}
		table.Row("# variables", fmt.Sprintf("%s (%s trainable)",
			humanize.Comma(int64(len(manifest.Variables))), humanize.Comma(int64(trainable))))
		table.Row("# endpoints", humanize.Comma(int64(len(manifest.Endpoints))))
		table.Row("# assets", humanize.Comma(int64(len(manifest.Assets))))
		table.Row("weights", humanize.Bytes(uint64(b.WeightsSize())))
		fmt.Println(table.Render())
	}

	if *flagVars {
		table := newPlainTable(true)
		table.Row("Name", "Shape", "Trainable", "Bytes")
		for _, record := range manifest.Variables {
			table.Row(record.Name, record.Shape.String(),
				fmt.Sprintf("%v", record.Trainable), humanize.Bytes(uint64(record.Length)))
		}
		fmt.Println(table.Render())
	}

	if *flagEndpoints {
		table := newPlainTable(true)
		table.Row("Endpoint", "Serialization", "Inputs", "Outputs", "# Nodes")
		for _, record := range manifest.Endpoints {
			table.Row(record.Name, record.Serialization,
				record.Program.InputSpec.String(), record.Program.OutputSpec.String(),
				humanize.Comma(int64(len(record.Program.Nodes))))
		}
		var keys []string
		for key, target := range manifest.Signatures {
			keys = append(keys, fmt.Sprintf("%s -> %s", key, target))
		}
		fmt.Println(table.Render())
		if len(keys) > 0 {
			fmt.Printf("Signatures: %s\n", strings.Join(keys, ", "))
		}
	}

	if *flagAssets {
		table := newPlainTable(true)
		table.Row("Asset", "Type", "File")
		for _, record := range manifest.Assets {
			table.Row(record.Name, record.Type, filepath.Join(bundle.AssetsDir, record.File))
		}
		fmt.Println(table.Render())
	}

	if *flagVerify {
		verifyWeights(artifactPath, manifest)
	}
}

// verifyWeights re-hashes weights.bin from disk. bundle.Read already verified
// the bytes it loaded; this double-checks the file as it currently is, which
// matters for artifacts on flaky or remote storage.
func verifyWeights(artifactPath string, manifest *bundle.Manifest) {
	weightsPath := filepath.Join(artifactPath, bundle.WeightsName)
	f := must.M1(os.Open(weightsPath))
	defer func() { _ = f.Close() }()
	info := must.M1(f.Stat())

	bar := progressbar.DefaultBytes(info.Size(), "verifying weights")
	hasher := sha256.New()
	must.M1(io.Copy(io.MultiWriter(hasher, bar), f))
	_ = bar.Finish()

	got := hex.EncodeToString(hasher.Sum(nil))
	if got != manifest.Checksum {
		klog.Errorf("Checksum mismatch: weights file hashes to %s, manifest records %s", got, manifest.Checksum)
		os.Exit(1)
	}
	fmt.Printf("Checksum OK: %s\n", got)
}
