// Package launcher implements the container launch stage: it settles the
// runtime environment (PORT default, optional startup delay), locates the
// application binary, and replaces the current process with it.
package launcher

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"autofilter/config"
)

// DefaultBinary is where the image places the application binary
const DefaultBinary = "/app/main"

var (
	// ErrBinaryNotFound means the application reference cannot be located
	ErrBinaryNotFound = errors.New("application binary not found")
	// ErrNotExecutable means the application reference exists but cannot be run
	ErrNotExecutable = errors.New("application binary is not executable")
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// Plan is a fully resolved launch
type Plan struct {
	Binary       string
	Port         string
	StartupDelay time.Duration
	Env          []string
}

// Resolve builds a launch plan from the environment exposed by lookup.
// environ is the full environment handed to the application, with PORT
// normalized in place.
func Resolve(lookup LookupFunc, environ []string) (*Plan, error) {
	rawPort, _ := lookup("PORT")
	port, err := config.ResolvePort(rawPort)
	if err != nil {
		return nil, err
	}

	binary := DefaultBinary
	if v, ok := lookup("APP_BINARY"); ok && strings.TrimSpace(v) != "" {
		binary = strings.TrimSpace(v)
	}

	var delay time.Duration
	if v, ok := lookup("STARTUP_DELAY"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("STARTUP_DELAY: %w", err)
		}
		if d > 0 {
			delay = d
		}
	}

	return &Plan{
		Binary:       binary,
		Port:         port,
		StartupDelay: delay,
		Env:          withEnv(environ, "PORT", port),
	}, nil
}

// Validate checks that the application binary exists and is executable
func (p *Plan) Validate() error {
	info, err := os.Stat(p.Binary)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBinaryNotFound, p.Binary)
		}
		return fmt.Errorf("stat %s: %w", p.Binary, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotExecutable, p.Binary)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrNotExecutable, p.Binary)
	}
	return nil
}

// Run validates the plan, applies the startup delay and execs the binary.
// It only returns on failure.
func Run(p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.StartupDelay > 0 {
		log.Printf("Applying startup delay: %v", p.StartupDelay)
		time.Sleep(p.StartupDelay)
	}
	log.Printf("🚀 [LAUNCH] exec %s (PORT=%s)", p.Binary, p.Port)
	if err := syscall.Exec(p.Binary, []string{p.Binary}, p.Env); err != nil {
		return fmt.Errorf("exec %s: %w", p.Binary, err)
	}
	return nil
}

// withEnv returns environ with key set to value, replacing any existing entry
func withEnv(environ []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, prefix+value)
}
