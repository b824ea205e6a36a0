package explore

import (
	_ "embed"
	"fmt"

	"github.com/ashureev/digdeeper/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoYAML []byte

type demoNode struct {
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Content     string     `yaml:"content"`
	Expanded    bool       `yaml:"expanded"`
	Children    []demoNode `yaml:"children"`
}

type demoDoc struct {
	Topic    string     `yaml:"topic"`
	Content  string     `yaml:"content"`
	Segments []demoNode `yaml:"segments"`
}

// Demo builds the seeded exploration shown on the landing page.
func Demo(opts ...Option) (*Exploration, error) {
	var doc demoDoc
	if err := yaml.Unmarshal(demoYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse demo exploration: %w", err)
	}

	e := New(doc.Topic, doc.Content, opts...)
	err := e.Apply(func(t *Tree) error {
		for _, n := range doc.Segments {
			root, err := t.InsertRoot(n.segment())
			if err != nil {
				return err
			}
			if err := insertDemoChildren(t, root.ID, n.Children); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("seed demo exploration: %w", err)
	}
	return e, nil
}

func insertDemoChildren(t *Tree, parentID string, nodes []demoNode) error {
	for _, n := range nodes {
		child, err := t.InsertChild(parentID, n.segment())
		if err != nil {
			return err
		}
		if err := insertDemoChildren(t, child.ID, n.Children); err != nil {
			return err
		}
	}
	return nil
}

func (n demoNode) segment() domain.Segment {
	return domain.Segment{
		Title:       n.Title,
		Description: n.Description,
		Content:     n.Content,
		IsExpanded:  n.Expanded,
	}
}
