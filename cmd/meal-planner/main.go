package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"weekly-meal-planner/internal/app"
	"weekly-meal-planner/internal/config"
	"weekly-meal-planner/internal/logger"
	"weekly-meal-planner/internal/planner"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer application.Close()

	if err := run(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		application.Close()
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	p := a.Planner

	switch command {
	case "import-recipes":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		file := fs.String("file", "recipes.yaml", "YAML list of recipes")
		fs.Parse(args)

		saved, err := a.ImportRecipes(ctx, *file)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d recipes.\n", saved)
	case "generate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		file := fs.String("file", "", "YAML generate request")
		persist := fs.Bool("persist", true, "Store the generated plan")
		fs.Parse(args)
		if *file == "" {
			return fmt.Errorf("-file is required")
		}

		req, err := app.LoadRequest(*file)
		if err != nil {
			return err
		}
		plan, err := p.Generate(ctx, req, planner.GenerateOptions{Persist: *persist})
		if err != nil {
			return err
		}
		printPlan(plan)
	case "regenerate":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("plan", "", "Plan ID")
		day := fs.Int("day", 0, "Day index, 0-6")
		meal := fs.String("meal", "", "Regenerate only this meal type")
		exclude := fs.String("exclude", "", "Comma-separated recipe IDs to avoid")
		tags := fs.String("tags", "", "Comma-separated required tags")
		different := fs.Bool("different", false, "Avoid every recipe the day uses now")
		fs.Parse(args)

		extra := planner.ExtraConstraints{
			ExcludeRecipeIDs: splitList(*exclude),
			RequiredTags:     splitList(*tags),
			DifferentProtein: *different,
		}
		var plan *planner.WeeklyPlan
		var err error
		if *meal != "" {
			plan, err = p.RegenerateMeal(ctx, *id, *day, *meal, extra)
		} else {
			plan, err = p.RegenerateDay(ctx, *id, *day, extra)
		}
		if err != nil {
			return err
		}
		printPlan(plan)
	case "replace-meal":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("plan", "", "Plan ID")
		day := fs.Int("day", 0, "Day index, 0-6")
		meal := fs.String("meal", "", "Meal type")
		recipeID := fs.String("recipe", "", "Recipe ID to place in the slot")
		fs.Parse(args)

		plan, err := p.ReplaceMeal(ctx, *id, *day, *meal, *recipeID)
		if err != nil {
			return err
		}
		printPlan(plan)
	case "get":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("plan", "", "Plan ID")
		fs.Parse(args)

		plan, err := p.Get(ctx, *id)
		if err != nil {
			return err
		}
		printPlan(plan)
	case "recipe":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("id", "", "Recipe ID")
		fs.Parse(args)

		doc, err := p.Recipe(ctx, *id)
		if err != nil {
			return err
		}
		doc.Embedding = nil
		printJSON(doc)
	case "today", "tomorrow":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		user := fs.String("user", "", "User ID")
		fs.Parse(args)

		date := time.Now().UTC()
		if command == "tomorrow" {
			date = date.AddDate(0, 0, 1)
		}
		day, err := p.GetDailyPlan(ctx, *user, date)
		if err != nil {
			return err
		}
		printJSON(day)
	case "list":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		user := fs.String("user", "", "User ID")
		limit := fs.Int("limit", 10, "Maximum plans to list")
		offset := fs.Int("offset", 0, "Plans to skip")
		archived := fs.Bool("archived", false, "Include archived plans")
		fs.Parse(args)

		plans, err := p.List(ctx, *user, planner.ListOptions{Limit: *limit, Offset: *offset, IncludeArchived: *archived})
		if err != nil {
			return err
		}
		for _, plan := range plans {
			status := "active"
			if plan.Archived {
				status = "archived"
			}
			fmt.Printf("%s  %s..%s  v%d  variety=%.2f  %s\n",
				plan.ID, plan.StartDate.Format(time.DateOnly), plan.EndDate.Format(time.DateOnly),
				plan.Version, plan.VarietyScore, status)
		}
	case "stats":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("plan", "", "Plan ID")
		fs.Parse(args)

		stats, err := p.Stats(ctx, *id)
		if err != nil {
			return err
		}
		printJSON(stats)
	case "archive", "delete":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		id := fs.String("plan", "", "Plan ID")
		fs.Parse(args)

		var err error
		if command == "archive" {
			err = p.Archive(ctx, *id)
		} else {
			err = p.Delete(ctx, *id)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Plan %s: %sd.\n", *id, command)
	case "metrics":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		days := fs.Int("days", 7, "Report the last N days")
		fs.Parse(args)

		usage, err := a.Metrics.GetDailyUsage(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("%-10s  %-16s  %5s  %5s  %5s  %8s\n", "date", "operation", "runs", "fail", "esc", "avg ms")
		for _, u := range usage {
			fmt.Printf("%-10s  %-16s  %5d  %5d  %5d  %8d\n",
				u.Date, u.Operation, u.Executions, u.Failures, u.Escalations, u.AvgLatencyMS)
		}
	case "metrics-cleanup":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		days := fs.Int("days", 30, "Keep records for the last N days")
		fs.Parse(args)

		affected, err := a.Metrics.Cleanup(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully removed %d old metric records.\n", affected)
	case "health":
		h, err := a.Health(ctx)
		if err != nil {
			return err
		}
		printJSON(h)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printPlan(plan *planner.WeeklyPlan) {
	fmt.Printf("Plan %s for %s (%s..%s), version %d, variety %.2f\n",
		plan.ID, plan.UserID, plan.StartDate.Format(time.DateOnly), plan.EndDate.Format(time.DateOnly),
		plan.Version, plan.VarietyScore)
	for _, d := range plan.Days {
		fmt.Printf("\n%s %s  target %.0f kcal, planned %.0f kcal\n",
			d.Date.Format(time.DateOnly), d.DayName, d.Target.Kcal, d.Totals.Kcal)
		for _, m := range d.Meals {
			flags := ""
			if m.RelaxedTags {
				flags += " [tags relaxed]"
			}
			if m.RepeatOverflow {
				flags += " [repeat overflow]"
			}
			fmt.Printf("  %-10s %-40s x%.2f  %.0f kcal%s\n", m.MealType, m.RecipeTitle, m.Servings, m.Nutrition.Kcal, flags)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage() {
	fmt.Println("Usage: meal-planner <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  import-recipes     Load a YAML recipe list into the corpus")
	fmt.Println("  generate           Generate a weekly plan from a YAML request")
	fmt.Println("  regenerate         Regenerate one day, or one meal with -meal")
	fmt.Println("  replace-meal       Put a chosen recipe into a meal slot")
	fmt.Println("  get                Print a plan")
	fmt.Println("  recipe             Print a corpus recipe")
	fmt.Println("  today, tomorrow    Print a user's meals for the day")
	fmt.Println("  list               List a user's plans, newest first")
	fmt.Println("  stats              Print weekly totals and averages")
	fmt.Println("  archive, delete    Archive or delete a plan")
	fmt.Println("  metrics            Show daily execution metrics")
	fmt.Println("  metrics-cleanup    Remove old metric records")
	fmt.Println("  health             Show runtime and storage health")
}
