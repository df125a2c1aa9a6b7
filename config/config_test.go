package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/screwtape/config"
	"github.com/MarcinKonowalczyk/screwtape/st"
	"github.com/MarcinKonowalczyk/screwtape/utils"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "screwtape.toml", `
interval = "25ms"
policy = "clamp"
max_steps = 1000
tape_from_opcodes = true

[opcodes]
"+" = 1
"-" = -1
`)
	c, err := config.Load(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, c.Interval, 25*time.Millisecond)
	utils.AssertEqual(t, c.Policy, st.Clamp)
	utils.AssertEqual(t, c.MaxSteps, uint64(1000))
	utils.Assert(t, c.TapeFromOpcodes, "Expected tape_from_opcodes to be set")
	utils.AssertEqualMaps(t, c.Opcodes, st.Opcodes{'+': 1, '-': -1})
	utils.AssertEqual(t, c.Path, path)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "screwtape.yaml", `
interval: 1s
opcodes:
  "[": 91
  "é": 233
`)
	c, err := config.Load(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, c.Interval, time.Second)
	utils.AssertEqual(t, c.Policy, st.Wrap)
	utils.AssertEqualMaps(t, c.Opcodes, st.Opcodes{'[': 91, 'é': 233})
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "screwtape.toml", "")
	c, err := config.Load(path)
	utils.AssertNoError(t, err)
	utils.AssertDiff(t, config.Default().Opcodes, c.Opcodes)
	utils.AssertEqual(t, c.Interval, time.Duration(0))
	utils.AssertEqual(t, c.MaxSteps, uint64(0))
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"policy.toml":   `policy = "saturate"`,
		"interval.toml": `interval = "soon"`,
		"negative.toml": `interval = "-1s"`,
		"opcode.yaml":   "opcodes:\n  \"++\": 1\n",
		"format.json":   `{}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, dir, name, content))
			utils.AssertErrorIs(t, err, errdefs.IsInvalidArgument)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "screwtape.toml"))
	utils.AssertError(t, err)
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	utils.AssertEqual(t, config.Find(dir), "")
	yml := writeFile(t, dir, "screwtape.yml", "")
	utils.AssertEqual(t, config.Find(dir), yml)
	toml := writeFile(t, dir, "screwtape.toml", "")
	utils.AssertEqual(t, config.Find(dir), toml)
}
