package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcinKonowalczyk/screwtape/config"
)

const specFilename = "config.json"

// Program file extensions accepted as the container entrypoint.
var programExtensions = []string{".st", ".screwtape", ".bf"}

// The subset of the OCI runtime spec the shim cares about.
type ociRoot struct {
	Path string `json:"path"`
}

type ociProcess struct {
	Args []string `json:"args"`
}

type ociSpec struct {
	Root    ociRoot    `json:"root"`
	Process ociProcess `json:"process"`
}

// Bundle describes the program a task runs.
type Bundle struct {
	Root       string
	Entrypoint string
	// Settings is a screwtape.toml / .yaml found next to the entrypoint.
	Settings string
}

// ReadBundle reads the OCI spec in dir and checks that it points at a single
// Screwtape program inside the rootfs.
func ReadBundle(dir string) (*Bundle, error) {
	specPath := filepath.Join(dir, specFilename)
	data, err := os.ReadFile(specPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("spec file %s not found", specFilename)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", specFilename, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in spec file %s", specFilename)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d", len(spec.Process.Args))
	}
	entrypoint := spec.Process.Args[0]

	if !isProgram(entrypoint) {
		return nil, fmt.Errorf("entry point (%s) is not a screwtape program (%s)", entrypoint, strings.Join(programExtensions, ", "))
	}

	program := filepath.Join(spec.Root.Path, entrypoint)
	if _, err := os.Stat(program); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("program %s does not exist: %w", entrypoint, err)
		}
		return nil, fmt.Errorf("checking program %s: %w", entrypoint, err)
	}

	return &Bundle{
		Root:       spec.Root.Path,
		Entrypoint: entrypoint,
		Settings:   config.Find(filepath.Dir(program)),
	}, nil
}

func isProgram(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range programExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (b *Bundle) FullPath() string {
	return filepath.Join(b.Root, b.Entrypoint)
}

// Args are the arguments after the binary that run the program in
// screwtape mode.
func (b *Bundle) Args() []string {
	args := []string{"screwtape", "-file", b.FullPath()}
	if b.Settings != "" {
		args = append(args, "-config", b.Settings)
	}
	return args
}
