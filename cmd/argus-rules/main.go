// Package main provides a CLI tool for validating Argus YAML rule
// definition files before they are provisioned.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"argus-vms/internal/rules"
	"argus-vms/internal/schema"
)

var version = "dev"

const usage = `Usage: argus-rules <command> [flags] [args]

Commands:
  validate  Validate YAML rule definition files or directories
  list      List rule definitions found in files or directories

Flags:
  -version  Show version and exit
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "validate":
		flags := flag.NewFlagSet("validate", flag.ExitOnError)
		verbose := flags.Bool("verbose", false, "Show detailed rule information")
		flags.Parse(os.Args[2:])
		if flags.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "Error: at least one path is required")
			fmt.Fprintln(os.Stderr, "Usage: argus-rules validate [--verbose] <path> [<path>...]")
			os.Exit(1)
		}
		os.Exit(runValidate(flags.Args(), *verbose))
	case "list":
		flags := flag.NewFlagSet("list", flag.ExitOnError)
		flags.Parse(os.Args[2:])
		paths := flags.Args()
		if len(paths) == 0 {
			paths = []string{"rules"}
		}
		os.Exit(runList(paths))
	case "-version", "--version", "-v":
		fmt.Printf("argus-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runValidate(paths []string, verbose bool) int {
	files, errs := expandPaths(paths)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	var valid int
	for _, f := range files {
		if validateFile(f, verbose) {
			valid++
		}
	}
	invalid := len(files) - valid + len(errs)

	fmt.Printf("\nResults: %d files checked, %d valid, %d invalid\n", len(files), valid, invalid)
	if invalid > 0 {
		return 1
	}
	return 0
}

func validateFile(path string, verbose bool) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false
	}

	defs, err := rules.ParseDefinitions(data)
	if err != nil {
		fmt.Printf("  FAIL  %s: %v\n", path, err)
		return false
	}

	fmt.Printf("  OK    %s (%d rule(s))\n", path, len(defs))
	if verbose {
		for _, def := range defs {
			describeRule(def)
		}
	}
	return true
}

func describeRule(def *rules.Definition) {
	fmt.Printf("        - %s (model=%s, criticality=%s)\n",
		def.Title, def.ModelName, def.Input().Criticality)
	fmt.Printf("          window: %s-%s on %s\n",
		def.StartTime, def.EndTime, joinDays(def.DaysOfWeek))
	fmt.Printf("          cameras: %v\n", def.CameraIDs)
}

func runList(paths []string) int {
	files, errs := expandPaths(paths)
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		defs, err := rules.ParseDefinitions(data)
		if err != nil {
			continue
		}
		for _, def := range defs {
			fmt.Printf("%-40s  %-16s  %-8s  %s-%s %s\n",
				def.Title, def.ModelName, def.Input().Criticality,
				def.StartTime, def.EndTime, joinDays(def.DaysOfWeek))
		}
	}
	return 0
}

func joinDays(days []schema.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

// expandPaths resolves each argument to a list of YAML files. Directories
// are walked recursively. Unreadable paths are reported, not fatal.
func expandPaths(paths []string) (files []string, errs []error) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".yaml", ".yml":
				files = append(files, p)
			}
			return nil
		})
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", path, walkErr))
		}
	}
	return files, errs
}
