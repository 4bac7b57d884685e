package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/pflag"
)

var availableTargets = []target{
	{goos: "linux", goarch: "arm", goarm: "6"},
	{goos: "linux", goarch: "arm", goarm: "7"},
	{goos: "linux", goarch: "arm64"}, // ARMv8
	{goos: "linux", goarch: "386"},
	{goos: "linux", goarch: "amd64"},
}

type target struct {
	goos   string
	goarch string
	goarm  string
}

func (t target) String() string {
	if t.goarm != "" {
		return fmt.Sprintf("%s-%s-v%s", t.goos, t.goarch, t.goarm)
	}
	return fmt.Sprintf("%s-%s", t.goos, t.goarch)
}

type buildResult struct {
	target         target
	stdout, stderr string
	err            error
}

type settings struct {
	project, basename string
	rtmidi, race      bool
}

// build compiles the project for target. Without rtmidi the binary is built with cgo disabled
// and carries only the loopback backend.
func build(t target, s settings) buildResult {
	binaryPath := fmt.Sprintf("./builds/%s-%s", s.basename, t)

	env := []string{
		fmt.Sprintf("GOOS=%s", t.goos),
		fmt.Sprintf("GOARCH=%s", t.goarch),
	}
	if t.goarm != "" {
		env = append(env, fmt.Sprintf("GOARM=%s", t.goarm))
	}

	params := []string{"build", "-o", binaryPath}
	if s.rtmidi {
		env = append(env, "CGO_ENABLED=1")
	} else {
		env = append(env, "CGO_ENABLED=0")
		params = append(params, "-tags", "nortmidi")
	}
	if s.race {
		params = append(params, "-race")
	}
	params = append(params, s.project)

	cmd := exec.Command("go", params...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return buildResult{target: t, stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func selectTargets(selection string) ([]target, error) {
	if selection == "all" {
		return availableTargets, nil
	}
	var selected []target
	for _, name := range strings.Split(selection, ",") {
		var found bool
		for _, t := range availableTargets {
			if t.String() == name {
				selected = append(selected, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("target not found: %s", name)
		}
	}
	return selected, nil
}

func main() {
	var names []string
	for _, t := range availableTargets {
		names = append(names, t.String())
	}

	var s settings
	selection := pflag.String("platforms", "all",
		fmt.Sprintf("comma-separated target platform list\navailable: %s", strings.Join(names, ",")))
	pflag.StringVar(&s.project, "project", "./cmd/seqmidi/", "project directory")
	pflag.StringVar(&s.basename, "base", "seqmidi", "base filename for output binaries")
	pflag.BoolVar(&s.rtmidi, "rtmidi", false, "include cgo rtmidi backend, needs cross compiler for foreign targets")
	pflag.BoolVar(&s.race, "race", false, "include race detector")
	pflag.Parse()

	au := aurora.NewAurora(true)

	targets, err := selectTargets(*selection)
	if err != nil {
		fmt.Println(au.Red(err))
		os.Exit(1)
	}
	fmt.Printf("building %s for %d targets\n", s.project, len(targets))

	results := make(chan buildResult, len(targets))
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			results <- build(t, s)
		}(t)
	}
	wg.Wait()
	close(results)

	var failed []buildResult
	for r := range results {
		if r.err != nil {
			fmt.Printf("%s %s\n", au.Red("failed: "), r.target)
			failed = append(failed, r)
			continue
		}
		fmt.Printf("%s %s\n", au.Green("success:"), r.target)
	}

	for _, r := range failed {
		fmt.Printf("\n>>> Failed build: %s, target: %s (%v)\n", s.project, r.target, r.err)
		if r.stdout != "" {
			fmt.Printf("======== STDOUT ========\n%s========================\n", r.stdout)
		}
		if r.stderr != "" {
			fmt.Printf("======== STDERR ========\n%s========================\n", r.stderr)
		}
	}
	if len(failed) > 0 {
		os.Exit(1)
	}
}
