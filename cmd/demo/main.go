// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Corphon/ManimStudio/internal/app"
	"github.com/Corphon/ManimStudio/internal/config"
	"github.com/Corphon/ManimStudio/internal/di"
	"github.com/Corphon/ManimStudio/internal/renderer"
	"github.com/Corphon/ManimStudio/internal/services"
	"github.com/Corphon/ManimStudio/internal/utils"
)

// console front end for the render pipeline, without the HTTP server
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logFile := fmt.Sprintf("%s/console_%s.log", cfg.LogDir, time.Now().Format("2006-01-02"))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("structured log file unavailable: %v", err)
	}
	defer utils.GetLogger().Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.InitServices(ctx, cfg); err != nil {
		log.Fatalf("init services: %v", err)
	}
	defer closeRenderer()

	// one-shot mode: demo "draw a circle"
	if len(os.Args) > 1 {
		renderPrompt(ctx, strings.Join(os.Args[1:], " "))
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		showMenu()
		choice := getUserInput(scanner, "> ")

		switch choice {
		case "1", "render":
			prompt := getUserInput(scanner, "Concept to animate: ")
			renderPrompt(ctx, prompt)
		case "2", "runs":
			listRuns(10)
		case "3", "run":
			showRun(getUserInput(scanner, "Run id: "))
		case "4", "status":
			displayServiceStatus(ctx)
		case "0", "quit", "exit":
			fmt.Println("bye")
			return
		default:
			fmt.Println("unknown choice")
		}
		fmt.Println()

		if ctx.Err() != nil {
			return
		}
	}
}

func showMenu() {
	fmt.Println("ManimStudio console")
	fmt.Println("  1) render a prompt")
	fmt.Println("  2) list recent runs")
	fmt.Println("  3) show a run")
	fmt.Println("  4) service status")
	fmt.Println("  0) exit")
}

func getUserInput(scanner *bufio.Scanner, prompt string) string {
	fmt.Print(prompt)
	if !scanner.Scan() {
		return "exit"
	}
	return strings.TrimSpace(scanner.Text())
}

func renderPrompt(ctx context.Context, prompt string) {
	pipeline, ok := di.GetContainer().Get("pipeline").(*services.PipelineService)
	if !ok {
		fmt.Println("pipeline service not initialized")
		return
	}

	fmt.Println("generating and rendering, this can take a few minutes...")
	start := time.Now()
	result := pipeline.Run(ctx, prompt)

	fmt.Printf("status:  %s (%s)\n", result.Status, time.Since(start).Round(time.Second))
	if result.RunID != "" {
		fmt.Printf("run:     %s\n", result.RunID)
	}
	fmt.Printf("result:  %s\n", result.Message())
	if result.ArtifactURL != "" {
		fmt.Printf("url:     %s\n", result.ArtifactURL)
	}
}

func listRuns(limit int) {
	runs, ok := di.GetContainer().Get("runs").(*services.RunStore)
	if !ok {
		fmt.Println("run store not initialized")
		return
	}
	list, err := runs.List(limit)
	if err != nil {
		fmt.Printf("list runs: %v\n", err)
		return
	}
	if len(list) == 0 {
		fmt.Println("(no runs yet)")
		return
	}
	for _, run := range list {
		fmt.Printf("  %s  %-18s  %s  %q\n", run.CreatedAt.Format(time.DateTime), run.Status, run.ID, truncate(run.Prompt, 48))
	}
}

func showRun(id string) {
	runs, ok := di.GetContainer().Get("runs").(*services.RunStore)
	if !ok {
		fmt.Println("run store not initialized")
		return
	}
	run, err := runs.Get(id)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("id:        %s\n", run.ID)
	fmt.Printf("prompt:    %s\n", run.Prompt)
	fmt.Printf("backend:   %s %s\n", run.Provider, run.Model)
	fmt.Printf("status:    %s\n", run.Status)
	if run.ScriptPath != "" {
		fmt.Printf("script:    %s\n", run.ScriptPath)
	}
	if run.LogPath != "" {
		fmt.Printf("log:       %s\n", run.LogPath)
	}
	if run.ArtifactPath != "" {
		fmt.Printf("video:     %s\n", run.ArtifactPath)
	}
	if run.Error != "" {
		fmt.Printf("error:     %s\n", run.Error)
	}
}

func displayServiceStatus(ctx context.Context) {
	container := di.GetContainer()
	if llmService, ok := container.Get("llm").(*services.LLMService); ok {
		status := llmService.Describe()
		fmt.Printf("llm:       %s %s (%s)\n", status["provider"], status["model"], status["state"])
	}
	if r, ok := container.Get("renderer").(renderer.Renderer); ok {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := r.Check(checkCtx); err != nil {
			fmt.Printf("renderer:  unavailable (%v)\n", err)
		} else {
			fmt.Println("renderer:  ok")
		}
	}
	fmt.Printf("services:  %s\n", strings.Join(container.GetNames(), ", "))
}

func closeRenderer() {
	if closer, ok := di.GetContainer().Get("renderer").(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
