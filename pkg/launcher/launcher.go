// Package launcher discovers the game client binary on disk and relaunches
// it pointed at the Config Interceptor (spec.md §4, component C6; out of
// scope for correctness but stubbed here so the supervisor can be wired end
// to end and exercised in tests).
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

// Product is a launchable game product (spec.md §6 "Game-client launch line").
type Product string

const (
	ProductLeagueOfLegends Product = "league_of_legends"
	ProductBacon           Product = "bacon" // Legends of Runeterra (CLI game "lor").
	ProductValorant        Product = "valorant"
	ProductLion            Product = "lion" // CLI game "lion".
	ProductRiotClient      Product = ""      // RiotClient/Prompt/Auto omit product flags.
)

// Options configures a single launch.
type Options struct {
	ConfigURL string // e.g. http://127.0.0.1:<C2-port>
	Product   Product
	Patchline string
}

// Finder locates the Riot Client binary on disk. Real discovery is
// platform-specific (registry on Windows, known install paths on macOS);
// this default implementation checks a handful of conventional locations
// and is meant to be replaced by a platform-specific Finder in production
// builds.
type Finder interface {
	Find() (string, error)
}

// DefaultFinder looks in the conventional Riot Games install directories.
type DefaultFinder struct{}

// Find implements Finder.
func (DefaultFinder) Find() (string, error) {
	candidates := candidatePaths()
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("launcher: could not locate Riot Client binary (checked %d paths)", len(candidates))
}

func candidatePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			`C:\Riot Games\Riot Client\RiotClientServices.exe`,
			filepath.Join(os.Getenv("ProgramData"), "Riot Games", "Riot Client", "RiotClientServices.exe"),
		}
	case "darwin":
		return []string{"/Applications/Riot Client.app/Contents/MacOS/RiotClientServices"}
	default:
		return nil
	}
}

// Launcher starts the client against the Config Interceptor. It does not
// stop a client that is already running.
type Launcher struct {
	finder Finder
}

// New constructs a Launcher using finder to locate the client binary.
func New(finder Finder) *Launcher {
	if finder == nil {
		finder = DefaultFinder{}
	}
	return &Launcher{finder: finder}
}

// Launch starts the client with --client-config-url pointed at the Config
// Interceptor, plus product/patchline flags (spec.md §6). It returns once the
// process has started, without waiting for it to exit.
func (l *Launcher) Launch(opts Options) error {
	bin, err := l.finder.Find()
	if err != nil {
		return fmt.Errorf("launcher: %w", err)
	}

	args := []string{"--client-config-url=" + opts.ConfigURL}
	if opts.Product != ProductRiotClient {
		args = append(args, "--launch-product="+string(opts.Product))
		if opts.Patchline != "" {
			args = append(args, "--launch-patchline="+opts.Patchline)
		}
	}

	zap.S().Infof("launching %s %v", bin, args)
	cmd := exec.Command(bin, args...)
	return cmd.Start()
}
