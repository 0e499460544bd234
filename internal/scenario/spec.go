package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example.com/openrobot-bhv/internal/agent"
	"example.com/openrobot-bhv/internal/agent/behavior"
	"gopkg.in/yaml.v3"
)

// Node types understood in tree files.
const (
	TypeSequence          = "sequence"
	TypeSelector          = "selector"
	TypeDecorator         = "decorator"
	TypeDecoratorContinue = "decorator_continue"
	TypeInterrupt         = "interrupt"
	TypeInverter          = "inverter"
	TypeUntilSuccess      = "until_success"
	TypeUntilFailure      = "until_failure"
	TypeSleep             = "sleep"
	TypeLog               = "log"
	TypeExec              = "exec"
	TypeSetFact           = "set_fact"
	TypeSucceed           = "succeed"
	TypeFail              = "fail"
)

// Spec describes a behavior tree stored as YAML.
type Spec struct {
	Name string `yaml:"name"`
	Root Node   `yaml:"root"`
}

// Node is one node of a declarative tree. Which fields apply depends on Type.
type Node struct {
	Type string `yaml:"type"`
	// When names a blackboard flag; a leading "!" negates it.
	When     string        `yaml:"when,omitempty"`
	Children []Node        `yaml:"children,omitempty"`
	Child    *Node         `yaml:"child,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Message  string        `yaml:"message,omitempty"`
	Command  []string      `yaml:"command,omitempty"`
	Key      string        `yaml:"key,omitempty"`
	Value    interface{}   `yaml:"value,omitempty"`
}

// Parse converts a tree file into a Spec.
func Parse(raw string) (Spec, error) {
	var spec Spec
	if strings.TrimSpace(raw) == "" {
		return spec, errors.New("tree file is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return spec, fmt.Errorf("parse tree file: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Validate ensures required fields are populated throughout the tree.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("tree name is required")
	}
	return s.Root.validate("root")
}

func (n Node) validate(path string) error {
	needChild := func() error {
		if n.Child == nil {
			return fmt.Errorf("%s: %s requires child", path, n.Type)
		}
		return n.Child.validate(path + ".child")
	}
	needWhen := func() error {
		if strings.TrimPrefix(n.When, "!") == "" {
			return fmt.Errorf("%s: %s requires when", path, n.Type)
		}
		return nil
	}

	switch n.Type {
	case TypeSequence, TypeSelector:
		for i, c := range n.Children {
			if err := c.validate(fmt.Sprintf("%s.children[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case TypeDecorator, TypeDecoratorContinue, TypeInterrupt:
		if err := needWhen(); err != nil {
			return err
		}
		return needChild()
	case TypeInverter, TypeUntilSuccess, TypeUntilFailure:
		return needChild()
	case TypeSleep:
		if n.Duration <= 0 {
			return fmt.Errorf("%s: sleep requires a positive duration", path)
		}
	case TypeExec:
		if len(n.Command) == 0 {
			return fmt.Errorf("%s: exec requires command", path)
		}
	case TypeSetFact:
		if n.Key == "" {
			return fmt.Errorf("%s: set_fact requires key", path)
		}
	case TypeLog, TypeSucceed, TypeFail:
	case "":
		return fmt.Errorf("%s: type is required", path)
	default:
		return fmt.Errorf("%s: unknown type %q", path, n.Type)
	}
	return nil
}

// Build turns a validated Spec into a root Composite. Conditions and
// set_fact leaves use bb.
func Build(s Spec, bb *behavior.Blackboard) behavior.Composite {
	return s.Root.build(bb).Composite()
}

func (n Node) build(bb *behavior.Blackboard) behavior.Child {
	switch n.Type {
	case TypeSequence:
		return behavior.NewSequence(buildAll(n.Children, bb)...)
	case TypeSelector:
		return behavior.NewPrioritySelector(buildAll(n.Children, bb)...)
	case TypeDecorator:
		return behavior.NewDecorator(condition(bb, n.When), n.Child.build(bb))
	case TypeDecoratorContinue:
		return behavior.NewDecoratorContinue(condition(bb, n.When), n.Child.build(bb))
	case TypeInterrupt:
		return behavior.NewInterruptAction(condition(bb, n.When), n.Child.build(bb))
	case TypeInverter:
		return behavior.NewInverter(n.Child.build(bb))
	case TypeUntilSuccess:
		return behavior.NewUntilSuccess(n.Child.build(bb))
	case TypeUntilFailure:
		return behavior.NewUntilFailure(n.Child.build(bb))
	case TypeSleep:
		return agent.Sleep(n.Duration)
	case TypeLog:
		return agent.Logf("%s", n.Message)
	case TypeExec:
		return agent.Exec(n.Command[0], n.Command[1:]...)
	case TypeSetFact:
		key, value := n.Key, n.Value
		return behavior.Action(func() behavior.Status {
			bb.Set(key, value)
			return behavior.Success
		})
	case TypeFail:
		return behavior.Fail()
	default:
		return behavior.Succeed()
	}
}

func buildAll(nodes []Node, bb *behavior.Blackboard) []behavior.Child {
	children := make([]behavior.Child, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, n.build(bb))
	}
	return children
}

func condition(bb *behavior.Blackboard, when string) behavior.Condition {
	if key, negated := strings.CutPrefix(when, "!"); negated {
		flag := bb.Flag(key)
		return func() bool { return !flag() }
	}
	return bb.Flag(when)
}

// LoadDir parses every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]Spec, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)

	specs := make([]Spec, 0, len(files))
	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		spec, err := Parse(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Register adds the trees to the catalog. Names already taken are rejected
// rather than replaced.
func Register(c *agent.Catalog, bb *behavior.Blackboard, specs []Spec) error {
	taken := make(map[string]bool)
	for _, name := range c.Names() {
		taken[name] = true
	}
	for _, s := range specs {
		if taken[s.Name] {
			return fmt.Errorf("tree %q already registered", s.Name)
		}
		taken[s.Name] = true
	}
	for _, s := range specs {
		c.Register(s.Name, Build(s, bb))
	}
	return nil
}
