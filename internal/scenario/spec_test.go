package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"example.com/openrobot-bhv/internal/agent"
	"example.com/openrobot-bhv/internal/agent/behavior"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dockTree = `
name: dock
root:
  type: sequence
  children:
    - type: set_fact
      key: docking
      value: true
    - type: selector
      children:
        - type: decorator
          when: "!docking"
          child: {type: fail}
        - type: decorator_continue
          when: docking
          child: {type: log, message: optional}
        - type: inverter
          child: {type: fail}
    - type: until_success
      child:
        type: interrupt
        when: docking
        child: {type: sleep, duration: 1ms}
`

func run(t *testing.T, c behavior.Child) behavior.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := behavior.NewRun(c).Wait(ctx)
	require.NoError(t, err)
	return status
}

func TestParse(t *testing.T) {
	t.Parallel()

	spec, err := Parse(dockTree)
	require.NoError(t, err)
	assert.Equal(t, "dock", spec.Name)
	assert.Equal(t, TypeSequence, spec.Root.Type)
	require.Len(t, spec.Root.Children, 3)
	assert.Equal(t, time.Millisecond, spec.Root.Children[2].Child.Child.Duration)

	for name, tc := range map[string]struct {
		raw string
		err string
	}{
		"Empty":        {"  \n", "tree file is empty"},
		"NoName":       {"root: {type: succeed}", "tree name is required"},
		"NoType":       {"name: x\nroot: {}", "root: type is required"},
		"UnknownType":  {"name: x\nroot: {type: teleport}", `unknown type "teleport"`},
		"UnknownField": {"name: x\nroot: {type: succeed, speed: 3}", "parse tree file"},
		"NoChild":      {"name: x\nroot: {type: inverter}", "root: inverter requires child"},
		"NoWhen":       {"name: x\nroot: {type: decorator, when: '!', child: {type: succeed}}", "requires when"},
		"NoDuration":   {"name: x\nroot: {type: sequence, children: [{type: sleep}]}", "root.children[0]: sleep requires a positive duration"},
		"NoCommand":    {"name: x\nroot: {type: exec}", "exec requires command"},
		"NoKey":        {"name: x\nroot: {type: set_fact}", "set_fact requires key"},
	} {
		_, err := Parse(tc.raw)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), tc.err, name)
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	spec, err := Parse(dockTree)
	require.NoError(t, err)
	bb := behavior.NewBlackboard()
	assert.Equal(t, behavior.Success, run(t, Build(spec, bb)))
	assert.True(t, bb.GetBool("docking"))

	spec, err = Parse("name: guarded\nroot: {type: decorator, when: '!estop', child: {type: succeed}}")
	require.NoError(t, err)
	assert.Equal(t, behavior.Success, run(t, Build(spec, bb)))
	bb.Set("estop", true)
	assert.Equal(t, behavior.Failure, run(t, Build(spec, bb)))
}

func TestLoadDirAndRegister(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: beta\nroot: {type: fail}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(dockTree), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	specs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "dock", specs[0].Name)
	assert.Equal(t, "beta", specs[1].Name)

	c := agent.NewCatalog()
	c.Register("demo", agent.DemoTree(time.Millisecond))
	bb := behavior.NewBlackboard()
	require.NoError(t, Register(c, bb, specs))
	assert.Equal(t, []string{"beta", "demo", "dock"}, c.Names())

	tree, err := c.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, behavior.Failure, run(t, tree))

	err = Register(c, bb, specs[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tree "dock" already registered`)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: broken\nroot: {type: nope}\n"), 0o644))
	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.yaml")
}
