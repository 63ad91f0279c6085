package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kingrea/weft/internal/workflow/graph"
)

// NodeSpec declares one node, either in a pipeline's seed set or in an
// expansion plan written by a planning node.
type NodeSpec struct {
	ID          string   `json:"id" yaml:"id" toml:"id" validate:"required,nodeid"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty" toml:"category"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty" toml:"title"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" toml:"depends_on" validate:"unique,dive,required,nodeid"`
	Outputs     []string `json:"output_artifacts,omitempty" yaml:"output_artifacts,omitempty" toml:"output_artifacts" validate:"unique,dive,required"`
	Inputs      []string `json:"input_artifacts,omitempty" yaml:"input_artifacts,omitempty" toml:"input_artifacts" validate:"dive,required"`
}

// Node converts the spec into a Pending graph node.
func (s NodeSpec) Node() graph.Node {
	return graph.Node{
		ID:          s.ID,
		Category:    s.Category,
		Title:       s.Title,
		Description: s.Description,
		DependsOn:   cloneStringSlice(s.DependsOn),
		Status:      graph.StatusPending,
		Outputs:     cloneStringSlice(s.Outputs),
		Inputs:      cloneStringSlice(s.Inputs),
	}
}

// Normalized trims whitespace from every field.
func (s NodeSpec) Normalized() NodeSpec {
	s.ID = strings.TrimSpace(s.ID)
	s.Category = strings.TrimSpace(s.Category)
	s.Title = strings.TrimSpace(s.Title)
	s.DependsOn = trimAll(s.DependsOn)
	s.Outputs = trimAll(s.Outputs)
	s.Inputs = trimAll(s.Inputs)
	return s
}

// Nodes converts specs into graph nodes in declaration order.
func Nodes(specs []NodeSpec) []graph.Node {
	nodes := make([]graph.Node, 0, len(specs))
	for _, spec := range specs {
		nodes = append(nodes, spec.Node())
	}
	return nodes
}

// Expansion declares that once Trigger completes, the plan File found in the
// trigger's output directory extends the graph. With Expand set the plan
// records become the children of that node; otherwise they are added.
type Expansion struct {
	Trigger string `json:"trigger" yaml:"trigger" toml:"trigger" validate:"required,nodeid"`
	File    string `json:"file" yaml:"file" toml:"file" validate:"required"`
	Expand  string `json:"expand,omitempty" yaml:"expand,omitempty" toml:"expand" validate:"omitempty,nodeid"`
}

// Runtime configures execution constraints for a pipeline.
type Runtime struct {
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty" toml:"max_parallel"`
}

// Definition is a pipeline: the seed node set and the expansions that extend
// it at runtime.
type Definition struct {
	ID          string      `json:"id" yaml:"id" toml:"id" validate:"required"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty" toml:"description"`
	Mode        string      `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode"`
	Runtime     Runtime     `json:"runtime,omitempty" yaml:"runtime,omitempty" toml:"runtime"`
	Nodes       []NodeSpec  `json:"nodes" yaml:"nodes" toml:"nodes" validate:"required,min=1,dive"`
	Expansions  []Expansion `json:"expansions,omitempty" yaml:"expansions,omitempty" toml:"expansions" validate:"dive"`
}

// Validate ensures the definition is self-consistent and that its seed nodes
// form a valid graph.
func (def Definition) Validate() error {
	if err := validateStruct(def); err != nil {
		if def.ID == "" {
			return err
		}
		return fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	seen := make(map[string]struct{}, len(def.Nodes))
	for _, spec := range def.Nodes {
		if _, dup := seen[spec.ID]; dup {
			return fmt.Errorf("workflow %s: duplicate node id %s", def.ID, spec.ID)
		}
		seen[spec.ID] = struct{}{}
	}
	triggers := map[string]struct{}{}
	for idx, exp := range def.Expansions {
		if _, ok := seen[exp.Trigger]; !ok {
			return fmt.Errorf("workflow %s expansions[%d]: trigger references unknown node %s", def.ID, idx, exp.Trigger)
		}
		if _, dup := triggers[exp.Trigger]; dup {
			return fmt.Errorf("workflow %s expansions[%d]: node %s already triggers an expansion", def.ID, idx, exp.Trigger)
		}
		triggers[exp.Trigger] = struct{}{}
	}
	if err := graph.New(def.SeedNodes()).Err(); err != nil {
		return fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	return nil
}

// Normalized trims every field, clamps the runtime settings and validates the
// result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	clone.ID = strings.TrimSpace(clone.ID)
	clone.Mode = strings.TrimSpace(clone.Mode)
	if clone.Runtime.MaxParallel < 0 {
		clone.Runtime.MaxParallel = 0
	}
	for i := range clone.Nodes {
		clone.Nodes[i] = clone.Nodes[i].Normalized()
	}
	for i := range clone.Expansions {
		clone.Expansions[i].Trigger = strings.TrimSpace(clone.Expansions[i].Trigger)
		clone.Expansions[i].File = strings.TrimSpace(clone.Expansions[i].File)
		clone.Expansions[i].Expand = strings.TrimSpace(clone.Expansions[i].Expand)
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	if len(def.Nodes) > 0 {
		clone.Nodes = make([]NodeSpec, len(def.Nodes))
		for i, spec := range def.Nodes {
			spec.DependsOn = cloneStringSlice(spec.DependsOn)
			spec.Outputs = cloneStringSlice(spec.Outputs)
			spec.Inputs = cloneStringSlice(spec.Inputs)
			clone.Nodes[i] = spec
		}
	}
	if len(def.Expansions) > 0 {
		clone.Expansions = append([]Expansion(nil), def.Expansions...)
	}
	return clone
}

// SeedNodes returns the graph nodes a fresh run starts with.
func (def Definition) SeedNodes() []graph.Node {
	return Nodes(def.Nodes)
}

// ValidateSpecs checks plan records with the same rules as seed nodes.
func ValidateSpecs(specs []NodeSpec) error {
	for idx, spec := range specs {
		if err := validateStruct(spec); err != nil {
			return fmt.Errorf("record[%d]: %w", idx, err)
		}
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validateStruct(value any) error {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("nodeid", validateNodeID)
	})
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s contains duplicates", field)
	case "nodeid":
		return fmt.Sprintf("%s %q is not a valid node id", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// validateNodeID accepts slash-delimited ids without empty segments or
// whitespace.
func validateNodeID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return true
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return false
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
