package driver

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Shimmur/lokiload/loki"
	"gopkg.in/yaml.v3"
)

var ErrNoSchedulableTemplates = errors.New("no templates with a positive weight are registered")

// A BuildFunc constructs a fresh request every time it is called. It must be
// safe to call from many goroutines.
type BuildFunc func() *loki.PushRequest

// A Template is one registered request shape
type Template struct {
	Name   string
	Weight int
	Build  BuildFunc
}

// A TemplateSpec describes a single-entry template, as loaded from a
// templates file.
type TemplateSpec struct {
	Name   string            `yaml:"name"`
	Weight int               `yaml:"weight"`
	Labels map[string]string `yaml:"labels"`
	Body   string            `yaml:"body"`
}

type templateFile struct {
	Templates []TemplateSpec `yaml:"templates"`
}

// DefaultTemplateSpecs returns the three stock templates, equally weighted,
// each writing to its own fake log file.
func DefaultTemplateSpecs() []TemplateSpec {
	var specs []TemplateSpec
	for _, name := range []string{"pepetest", "josetest", "diegotest"} {
		specs = append(specs, TemplateSpec{
			Name:   name,
			Weight: 1,
			Labels: map[string]string{"filename": "/var/log/" + name},
			Body:   fmt.Sprintf("This is a fake %s log since we are evaluating Loki", name),
		})
	}
	return specs
}

// LoadTemplateSpecs reads template specs from a YAML file
func LoadTemplateSpecs(path string) ([]TemplateSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read templates from %s: %w", path, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse templates from %s: %w", path, err)
	}

	if err := ValidateTemplateSpecs(file.Templates); err != nil {
		return nil, fmt.Errorf("invalid templates in %s: %w", path, err)
	}

	return file.Templates, nil
}

// ValidateTemplateSpecs checks names are unique and no two templates share a
// label set, so concurrent clients never write into each other's stream.
func ValidateTemplateSpecs(specs []TemplateSpec) error {
	if len(specs) == 0 {
		return errors.New("no templates defined")
	}

	names := make(map[string]struct{}, len(specs))
	labelSets := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec.Name == "" {
			return errors.New("template without a name")
		}
		if _, ok := names[spec.Name]; ok {
			return fmt.Errorf("duplicate template name '%s'", spec.Name)
		}
		names[spec.Name] = struct{}{}

		if spec.Weight < 0 {
			return fmt.Errorf("template '%s' has negative weight %d", spec.Name, spec.Weight)
		}
		if len(spec.Labels) == 0 {
			return fmt.Errorf("template '%s' has no labels", spec.Name)
		}
		if spec.Body == "" {
			return fmt.Errorf("template '%s' has an empty body", spec.Name)
		}

		key := labelKey(spec.Labels)
		if other, ok := labelSets[key]; ok {
			return fmt.Errorf("templates '%s' and '%s' share the label set %s", other, spec.Name, key)
		}
		labelSets[key] = spec.Name
	}

	return nil
}

func labelKey(labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

// Builder returns a BuildFunc stamping each request with the current time
func (s TemplateSpec) Builder(now func() time.Time) BuildFunc {
	labels := make(map[string]string, len(s.Labels))
	for k, v := range s.Labels {
		labels[k] = v
	}
	body := s.Body

	return func() *loki.PushRequest {
		return loki.NewPushRequest(labels, now(), body)
	}
}

// buildSchedule lays the templates out in smooth weighted round-robin order.
// A full pass over the schedule selects every template exactly Weight times,
// and zero-weight templates never appear.
func buildSchedule(templates []*Template) ([]int, error) {
	var total int
	for _, t := range templates {
		total += t.Weight
	}
	if total == 0 {
		return nil, ErrNoSchedulableTemplates
	}

	schedule := make([]int, 0, total)
	current := make([]int, len(templates))

	for len(schedule) < total {
		best := -1
		for i, t := range templates {
			if t.Weight == 0 {
				continue
			}
			current[i] += t.Weight
			if best == -1 || current[i] > current[best] {
				best = i
			}
		}
		current[best] -= total
		schedule = append(schedule, best)
	}

	return schedule, nil
}
