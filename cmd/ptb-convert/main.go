package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	pointtobox "github.com/menta2k/point-to-box"
	"github.com/menta2k/point-to-box/internal/config"
	"github.com/menta2k/point-to-box/internal/logger"
	"github.com/menta2k/point-to-box/pkg/diagnostics"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}).Width(18)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E6E6E6"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#243141")).Padding(0, 1)
)

func main() {
	var configPath, envFile string
	var check, noSplit, quiet, dumpConfig bool

	flag.StringVar(&configPath, "config", "", "JSON config file (default: built-in defaults)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file with PTB_* overrides")
	flag.BoolVar(&check, "check", false, "only inspect the source dataset and report problems")
	flag.BoolVar(&noSplit, "nosplit", false, "write a single manifest instead of train/val")
	flag.BoolVar(&quiet, "quiet", false, "no progress bar")
	flag.BoolVar(&dumpConfig, "dumpconfig", false, "print the effective config as JSON and exit")

	// flag values are applied after file and environment
	data := flag.String("data", "", "source image directory")
	annos := flag.String("annos", "", "source COCO annotation file (relative paths resolve against -data)")
	out := flag.String("out", "", "output directory")
	cropSize := flag.Int("crop", 0, "nominal crop size in pixels")
	imgSize := flag.Int("size", 0, "resized output size in pixels")
	noResize := flag.Bool("noresize", false, "keep crops at their native size")
	prompts := flag.Int("prompts", 0, "prompt points per object")
	oversize := flag.String("oversize", "", "crop larger than image: reject|clamp")
	strict := flag.Bool("strict", false, "drop samples whose prompt leaves the crop")
	workers := flag.Int("workers", 0, "parallel image workers")
	seed := flag.Uint64("seed", 0, "random seed (0 keeps the configured seed)")
	valPct := flag.Float64("val", -1, "validation fraction in [0,1]")
	ext := flag.String("ext", "", "output format: jpg|png|webp")
	quality := flag.Int("quality", 0, "JPEG/WebP output quality (1-100)")
	logDir := flag.String("logdir", "", "also write logs to this directory")

	flag.Parse()

	if err := config.LoadEnv(envFile); err != nil {
		log.Fatalf("%+v", err)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			log.Fatalf("%+v", err)
		}
	}
	cfg.ApplyEnv()

	setIf(&cfg.Converter.DataDir, *data)
	setIf(&cfg.Converter.Annotations, *annos)
	setIf(&cfg.Output.OutputDir, *out)
	setIf(&cfg.Converter.OversizePolicy, *oversize)
	setIf(&cfg.Output.Format, *ext)
	setIf(&cfg.Log.Directory, *logDir)
	setIntIf(&cfg.Converter.CropSize, *cropSize)
	setIntIf(&cfg.Converter.ImgSize, *imgSize)
	setIntIf(&cfg.Converter.PromptsPerObject, *prompts)
	setIntIf(&cfg.Converter.Workers, *workers)
	setIntIf(&cfg.Output.Quality, *quality)
	if *seed != 0 {
		cfg.Converter.Seed = *seed
		cfg.Split.Seed = *seed
	}
	if *valPct >= 0 {
		cfg.Split.ValPct = *valPct
	}
	if *noResize {
		cfg.Converter.Resize = false
	}
	if *strict {
		cfg.Converter.StrictGeometry = true
	}
	if noSplit {
		cfg.Split.Enabled = false
	}
	if quiet {
		cfg.Log.Quiet = true
	}

	if dumpConfig {
		js, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatalf("%+v", err)
		}
		fmt.Println(string(js))
		return
	}

	if cfg.Converter.DataDir == "" {
		log.Fatalf("usage: %s -data images/ -annos annotations.json [-out outdir] [-crop 100] [-size 512] [-val 0.2] [-check]", filepath.Base(os.Args[0]))
	}

	lg := logger.New(os.Stdout, os.Stderr)
	if cfg.Log.Directory != "" {
		var err error
		if lg, err = logger.NewWithDir(cfg.Log.Directory); err != nil {
			log.Fatalf("%+v", err)
		}
	}
	defer lg.Close()

	p, err := pointtobox.New(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	p.SetLogger(lg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if check {
		report, err := p.Check(ctx)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		fmt.Println(renderCheck(report.Images, report.Objects, report.Crowd, report.UnreadableImage, report.Unfittable, report.Diagnostics))
		if !report.OK() {
			os.Exit(1)
		}
		return
	}

	if !cfg.Log.Quiet {
		bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))
		p.SetProgress(func(done, total int) {
			pct := 1.0
			if total > 0 {
				pct = float64(done) / float64(total)
			}
			fmt.Fprintf(os.Stderr, "\r%s %d/%d", bar.ViewAs(pct), done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		})
	}

	res, err := p.Convert(ctx)
	if err != nil {
		log.Fatalf("conversion failed: %+v", err)
	}

	reportPath := filepath.Join(cfg.Output.OutputDir, "conversion_report.json")
	if err := writeReport(reportPath, res); err != nil {
		log.Printf("Failed to write %s: %v", reportPath, err)
		reportPath = ""
	}

	fmt.Println(renderResult(res, reportPath))
}

func writeReport(path string, res *pointtobox.Result) error {
	js, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, js, 0o644)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setIntIf(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func row(label string, value interface{}) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(fmt.Sprint(value)))
}

func renderResult(res *pointtobox.Result, reportPath string) string {
	rows := []string{
		titleStyle.Render("point-to-box conversion"),
		row("images", res.Stats.Images),
		row("failed images", res.Stats.FailedImages),
		row("objects", res.Stats.Objects),
		row("samples", res.Stats.Samples),
		row("filtered prompts", res.Stats.Filtered),
	}
	if res.ManifestPath != "" {
		rows = append(rows, row("manifest", res.ManifestPath))
	} else {
		rows = append(rows,
			row("train", fmt.Sprintf("%d images  %s", res.TrainImages, res.TrainPath)),
			row("val", fmt.Sprintf("%d images  %s", res.ValImages, res.ValPath)),
		)
	}
	if n := len(res.Diagnostics); n > 0 {
		msg := fmt.Sprintf("%d diagnostics", n)
		if reportPath != "" {
			msg += " (see " + reportPath + ")"
		}
		rows = append(rows, warnStyle.Render(msg))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func renderCheck(images, objects, crowd, unreadable, unfittable int, d *diagnostics.Collector) string {
	rows := []string{
		titleStyle.Render("source dataset check"),
		row("images", images),
		row("unreadable", unreadable),
		row("objects", objects),
		row("crowd (skipped)", crowd),
		row("unfittable", unfittable),
	}
	kinds := []diagnostics.Kind{
		diagnostics.SourceAssetMissing,
		diagnostics.CropExceedsImage,
		diagnostics.CropTooSmall,
		diagnostics.DegenerateBox,
		diagnostics.GeometryInconsistency,
	}
	for _, k := range kinds {
		if n := d.Count(k); n > 0 {
			rows = append(rows, warnStyle.Render(fmt.Sprintf("%-22s %d", strings.ReplaceAll(string(k), "_", " "), n)))
		}
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
