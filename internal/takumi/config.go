package takumi

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// LoadConfig reads /etc/takumi.conf and applies defaults. A missing file is
// not an error: everything can be driven from TAKUMI_* environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	MergeEnvOverrides(cfg)
	return cfg, nil
}

// MergeEnvOverrides folds TAKUMI_* environment variables over the file config.
func MergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TAKUMI_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// EnvConfig holds the parameters every stage consumes: parallelism, the
// install prefixes, the amended search path and the shared directories.
type EnvConfig struct {
	Jobs         int
	Prefix       string // final, user-visible toolchain installation
	Intermediate string // host-targeting bootstrap prefix; empty unless canadian cross
	Path         string // PATH with <Prefix>/bin prepended
	BuildDir     string
	StagingDir   string // tmpinst root for packaging
	RepoDir      string // output repository for .pkg artifacts
	PatchesDir   string
	RootDir      string // install root, "/" outside of tests
}

// ResolveEnv computes the effective job count, prefixes and search path.
// An explicit TAKUMI_JOBS wins; otherwise the host CPU count is used, with a
// floor of one. The final prefix's bin directory is prepended to PATH so the
// stage-1 tools are preferred over any same-named system tool by later stages.
func ResolveEnv(cfg *Config, topo Topology) (*EnvConfig, error) {
	env := &EnvConfig{RootDir: "/"}

	if root := cfg.Values["TAKUMI_ROOT"]; root != "" {
		env.RootDir = root
	}

	env.Jobs = runtime.NumCPU()
	if env.Jobs < 1 {
		env.Jobs = 1
	}
	if j := cfg.Values["TAKUMI_JOBS"]; j != "" {
		n, err := strconv.Atoi(j)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: TAKUMI_JOBS=%q is not a positive integer", ErrConfiguration, j)
		}
		env.Jobs = n
	}

	env.Prefix = cfg.Values["TAKUMI_PREFIX"]
	if env.Prefix == "" {
		if topo.CanadianCross {
			// A host-targeting build lands on a foreign machine; there is no
			// sane default location we could invent for it.
			return nil, fmt.Errorf("%w: TAKUMI_PREFIX is required for a canadian cross build", ErrConfiguration)
		}
		env.Prefix = filepath.Join("/opt", "takumi-"+topo.Target)
	}

	if topo.CanadianCross {
		env.Intermediate = cfg.Values["TAKUMI_INTERMEDIATE_PREFIX"]
		if env.Intermediate == "" {
			env.Intermediate = env.Prefix + "-bootstrap"
		}
	}

	env.BuildDir = cfg.Values["TAKUMI_BUILD_DIR"]
	if env.BuildDir == "" {
		env.BuildDir = filepath.Join(os.TempDir(), "takumi-build")
	}
	env.StagingDir = filepath.Join(env.BuildDir, "tmpinst")

	env.RepoDir = cfg.Values["TAKUMI_REPO"]
	if env.RepoDir == "" {
		env.RepoDir = filepath.Join(env.BuildDir, "repo")
	}

	env.PatchesDir = cfg.Values["TAKUMI_PATCHES"]
	if env.PatchesDir == "" {
		env.PatchesDir = "/usr/share/takumi/patches"
	}

	searchPath := os.Getenv("PATH")
	binDirs := filepath.Join(env.Prefix, "bin")
	if env.Intermediate != "" {
		binDirs = binDirs + string(os.PathListSeparator) + filepath.Join(env.Intermediate, "bin")
	}
	if searchPath != "" {
		env.Path = binDirs + string(os.PathListSeparator) + searchPath
	} else {
		env.Path = binDirs
	}

	return env, nil
}

// Environ returns the process environment with PATH replaced by the resolved
// search path. Stages pass this to every external command they spawn.
func (e *EnvConfig) Environ() []string {
	environ := os.Environ()
	out := environ[:0]
	for _, kv := range environ {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH="+e.Path)
}
