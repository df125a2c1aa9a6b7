package shim_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcinKonowalczyk/screwtape/shim"
	"github.com/MarcinKonowalczyk/screwtape/utils"
)

// makeBundle lays out a bundle dir with a config.json whose rootfs holds the
// given files.
func makeBundle(t *testing.T, args []string, files map[string]string) (string, string) {
	t.Helper()
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	for name, content := range files {
		path := filepath.Join(rootfs, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	spec := map[string]any{
		"root":    map[string]any{"path": rootfs},
		"process": map[string]any{"args": args, "env": []string{"PATH=/bin"}},
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	return bundle, rootfs
}

func TestReadBundle(t *testing.T) {
	dir, rootfs := makeBundle(t, []string{"/app/hello.st"}, map[string]string{
		"app/hello.st": "+++.",
	})
	bundle, err := shim.ReadBundle(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, bundle.Root, rootfs)
	utils.AssertEqual(t, bundle.Entrypoint, "/app/hello.st")
	utils.AssertEqual(t, bundle.Settings, "")
	utils.AssertEqualArrays(t, bundle.Args(), []string{
		"screwtape", "-file", filepath.Join(rootfs, "app", "hello.st"),
	})
}

func TestReadBundle_Settings(t *testing.T) {
	dir, rootfs := makeBundle(t, []string{"/app/hello.bf"}, map[string]string{
		"app/hello.bf":       "+++.",
		"app/screwtape.toml": `policy = "clamp"`,
	})
	bundle, err := shim.ReadBundle(dir)
	utils.AssertNoError(t, err)
	settings := filepath.Join(rootfs, "app", "screwtape.toml")
	utils.AssertEqual(t, bundle.Settings, settings)
	utils.AssertEqualArrays(t, bundle.Args(), []string{
		"screwtape", "-file", filepath.Join(rootfs, "app", "hello.bf"), "-config", settings,
	})
}

func TestReadBundle_Errors(t *testing.T) {
	cases := map[string]struct {
		args  []string
		files map[string]string
	}{
		"wrong extension": {[]string{"/hello.sh"}, map[string]string{"hello.sh": ""}},
		"missing program": {[]string{"/hello.st"}, nil},
		"too many args":   {[]string{"/hello.st", "x"}, map[string]string{"hello.st": ""}},
		"no args":         {nil, nil},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			dir, _ := makeBundle(t, c.args, c.files)
			_, err := shim.ReadBundle(dir)
			utils.AssertError(t, err)
		})
	}
}

func TestReadBundle_NoSpec(t *testing.T) {
	_, err := shim.ReadBundle(t.TempDir())
	utils.AssertError(t, err)
}
