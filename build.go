//go:build ignore

// build.go - keyforge build system
// Usage: go run build.go [-target=TARGET]
// Targets: build, test, clean, release

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	binaryName = "keyforge"
	versionPkg = "keyforge/pkg/contracts"
)

var (
	rootDir string
	distDir string

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

// BuildContext holds configuration for the build process
type BuildContext struct {
	Verbose bool
	GOOS    string
	GOARCH  string
}

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("Failed to get current directory: %v", err))
	}
	rootDir = cwd
	distDir = filepath.Join(rootDir, "dist")

	if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); os.IsNotExist(err) {
		panic(fmt.Sprintf("go.mod not found in %s; run from the module root", rootDir))
	}
}

func main() {
	target := flag.String("target", "build", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	goos := flag.String("os", "", "Target GOOS for release builds")
	goarch := flag.String("arch", "", "Target GOARCH for release builds")
	flag.Parse()

	printHeader()
	startTime := time.Now()

	ctx := &BuildContext{Verbose: *verbose, GOOS: *goos, GOARCH: *goarch}

	var err error
	switch *target {
	case "build":
		err = buildBinary(ctx)
	case "test":
		err = runTests(ctx)
	case "clean":
		err = clean(ctx)
	case "release":
		err = buildRelease(ctx)
	default:
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(startTime).Round(time.Millisecond)))
}

func printHeader() {
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println(colorCyan + "        keyforge - Build System            " + colorReset)
	fmt.Println(colorCyan + "===========================================" + colorReset)
	fmt.Println()
}

func printInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", colorBlue, colorReset, msg)
}

func printSuccess(msg string) {
	fmt.Printf("%s[SUCCESS]%s %s\n", colorGreen, colorReset, msg)
}

func printError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", colorRed, colorReset, msg)
}

// gitCommit returns the short HEAD hash, or "unknown" outside a checkout
func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func ldflags() string {
	return fmt.Sprintf("-s -w -X %s.BuildTime=%s -X %s.GitCommit=%s",
		versionPkg, time.Now().UTC().Format(time.RFC3339),
		versionPkg, gitCommit())
}

func goCommand(ctx *BuildContext, args ...string) *exec.Cmd {
	cmd := exec.Command("go", args...)
	cmd.Dir = rootDir
	cmd.Env = os.Environ()
	if ctx.GOOS != "" {
		cmd.Env = append(cmd.Env, "GOOS="+ctx.GOOS)
	}
	if ctx.GOARCH != "" {
		cmd.Env = append(cmd.Env, "GOARCH="+ctx.GOARCH)
	}
	if ctx.Verbose {
		fmt.Printf("Running: go %s\n", strings.Join(args, " "))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func outputPath(ctx *BuildContext) string {
	name := binaryName
	if ctx.GOOS != "" || ctx.GOARCH != "" {
		name = fmt.Sprintf("%s-%s-%s", binaryName, ctx.GOOS, ctx.GOARCH)
	}
	if ctx.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(distDir, name)
}

func buildBinary(ctx *BuildContext) error {
	printInfo(fmt.Sprintf("Building %s...", binaryName))

	if err := os.MkdirAll(distDir, 0755); err != nil {
		return fmt.Errorf("failed to create dist directory: %w", err)
	}

	out := outputPath(ctx)
	args := []string{"build", "-trimpath", "-ldflags", ldflags(), "-o", out, "./cmd/keyforge"}
	if ctx.Verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}
	if err := goCommand(ctx, args...).Run(); err != nil {
		return fmt.Errorf("failed to build %s: %w", binaryName, err)
	}

	if info, err := os.Stat(out); err == nil {
		printSuccess(fmt.Sprintf("Built %s (%.1f MB)", filepath.Base(out), float64(info.Size())/1024/1024))
	}
	return nil
}

func runTests(ctx *BuildContext) error {
	printInfo("Running Go tests...")
	args := []string{"test", "-race"}
	if ctx.Verbose {
		args = append(args, "-v")
	}
	args = append(args, "./...")

	if err := goCommand(ctx, args...).Run(); err != nil {
		return fmt.Errorf("go tests failed: %w", err)
	}
	printSuccess("All tests passed")
	return nil
}

func clean(ctx *BuildContext) error {
	printInfo("Cleaning build artifacts...")
	if err := os.RemoveAll(distDir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", distDir, err)
	}
	return nil
}

// buildRelease produces a static binary with a VERSION file beside it
func buildRelease(ctx *BuildContext) error {
	printInfo("Building release version...")

	if err := clean(ctx); err != nil {
		return err
	}
	os.Setenv("CGO_ENABLED", "0")
	if err := buildBinary(ctx); err != nil {
		return err
	}

	content := fmt.Sprintf("keyforge\nCommit: %s\nBuilt: %s\n",
		gitCommit(), time.Now().UTC().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(filepath.Join(distDir, "VERSION.txt"), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write version file: %w", err)
	}

	printSuccess("Release build completed")
	return nil
}

func showHelp() {
	fmt.Println("Usage: go run build.go [-target=TARGET] [-v] [-os=GOOS] [-arch=GOARCH]")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  build    Build dist/keyforge")
	fmt.Println("  test     Run Go tests with the race detector")
	fmt.Println("  clean    Remove the dist directory")
	fmt.Println("  release  Clean and build a static release binary")
}
