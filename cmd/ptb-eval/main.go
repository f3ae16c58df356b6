package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"

	pointtobox "github.com/menta2k/point-to-box"
	"github.com/menta2k/point-to-box/internal/config"
	"github.com/menta2k/point-to-box/pkg/client"
	"github.com/menta2k/point-to-box/pkg/coords"
	"github.com/menta2k/point-to-box/pkg/detection"
	"github.com/menta2k/point-to-box/pkg/llamacpp"
	"github.com/menta2k/point-to-box/pkg/model"
	"github.com/menta2k/point-to-box/pkg/ollama"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")).Width(12)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#243141")).Padding(0, 1)
)

func main() {
	var annos, backend, url, modelName, prompt string
	var batch int
	var priorSize float64

	flag.StringVar(&annos, "annos", "", "converted manifest (train/annotations.json or val/annotations.json)")
	flag.StringVar(&backend, "backend", "prior", "localizer: prior, ollama or llamacpp")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&modelName, "model", "openbmb/minicpm-v4.5", "vision model name")
	flag.StringVar(&prompt, "prompt", "", "override the localization prompt (must contain two %f verbs for x and y)")
	flag.IntVar(&batch, "batch", 8, "samples per batch")
	flag.Float64Var(&priorSize, "priorsize", 0.25, "box side of the prior baseline as an image fraction")
	flag.Parse()

	if annos == "" {
		log.Fatalf("usage: %s -annos val/annotations.json [-backend prior|ollama|llamacpp] [-url server_url] [-model name]", filepath.Base(os.Args[0]))
	}

	var loc model.Localizer
	if backend == "prior" {
		loc = model.PromptPrior{Size: float32(priorSize)}
	} else {
		var visionClient client.VisionClient
		var err error
		switch backend {
		case "ollama":
			if url == "" {
				url = "http://localhost:11434"
			}
			visionClient, err = ollama.NewClient(url)
		case "llamacpp":
			visionClient, err = llamacpp.NewClient(url)
		default:
			log.Fatalf("Unknown backend: %s (use 'prior', 'ollama' or 'llamacpp')\n", backend)
		}
		if err != nil {
			log.Fatalf("Failed to create %s client: %v", backend, err)
		}
		l := detection.NewLocalizer(visionClient, modelName)
		if prompt != "" {
			l.SetPrompt(prompt)
		}
		loc = l
	}

	// converted targets are always scored in cntr_ofst_frac form
	cfg := config.Default()
	cfg.Converter.DataDir = filepath.Dir(annos)
	cfg.Output.BoxFormat = string(coords.CenterOffsetFraction)
	p, err := pointtobox.New(cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Evaluating %s on %s", backend, annos)
	ev, err := p.Evaluate(ctx, loc, annos, batch)
	if err != nil {
		log.Fatalf("evaluation failed: %+v", err)
	}

	fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("CIoU evaluation"),
		labelStyle.Render("backend")+backend,
		labelStyle.Render("samples")+fmt.Sprint(ev.Samples),
		labelStyle.Render("total loss")+fmt.Sprintf("%.4f", ev.TotalLoss),
		labelStyle.Render("mean loss")+fmt.Sprintf("%.4f", ev.MeanLoss),
	)))
}
