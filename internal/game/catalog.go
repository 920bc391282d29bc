package game

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/alexbotov/sweepsrgs/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// GameDef is one catalog entry
type GameDef struct {
	ID        string          `yaml:"id" json:"id"`
	Name      string          `yaml:"name" json:"name"`
	Type      domain.GameType `yaml:"type" json:"type"`
	Slot      *SlotConfig     `yaml:"slot,omitempty" json:"slot,omitempty"`
	Scratch   *ScratchConfig  `yaml:"scratch,omitempty" json:"scratch,omitempty"`
	Blackjack *BlackjackRules `yaml:"blackjack,omitempty" json:"blackjack,omitempty"`
}

// Catalog holds every playable game by id
type Catalog struct {
	games map[string]*GameDef
}

// LoadCatalog reads the catalog at path, or the built-in one when path is empty
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read game catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Games []*GameDef `yaml:"games"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse game catalog: %w", err)
	}
	c := &Catalog{games: make(map[string]*GameDef, len(doc.Games))}
	for _, g := range doc.Games {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("game %q: %w", g.ID, err)
		}
		if _, dup := c.games[g.ID]; dup {
			return nil, fmt.Errorf("game %q defined twice", g.ID)
		}
		c.games[g.ID] = g
	}
	return c, nil
}

// NewCatalog builds a catalog from definitions, validating each
func NewCatalog(defs ...*GameDef) (*Catalog, error) {
	c := &Catalog{games: make(map[string]*GameDef, len(defs))}
	for _, g := range defs {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("game %q: %w", g.ID, err)
		}
		c.games[g.ID] = g
	}
	return c, nil
}

func (g *GameDef) validate() error {
	if g.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch g.Type {
	case domain.GameTypeSlots:
		if g.Slot == nil {
			return fmt.Errorf("slots game without slot config")
		}
		return g.Slot.Validate()
	case domain.GameTypeScratch:
		if g.Scratch == nil {
			return fmt.Errorf("scratch game without scratch config")
		}
		return g.Scratch.Validate()
	case domain.GameTypeBlackjack:
		if g.Blackjack == nil {
			g.Blackjack = &BlackjackRules{}
		}
	case domain.GameTypePlinko, domain.GameTypePoker:
	default:
		return fmt.Errorf("unknown game type %q", g.Type)
	}
	return nil
}

// Get returns a game by id
func (c *Catalog) Get(id string) (*GameDef, error) {
	g, ok := c.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: game %q", domain.ErrNotFound, id)
	}
	return g, nil
}

// GetOfType returns a game by id and checks its engine
func (c *Catalog) GetOfType(id string, t domain.GameType) (*GameDef, error) {
	g, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if g.Type != t {
		return nil, fmt.Errorf("%w: game %q is %s, not %s", domain.ErrInvalidWager, id, g.Type, t)
	}
	return g, nil
}

// All returns every game ordered by id
func (c *Catalog) All() []*GameDef {
	out := make([]*GameDef, 0, len(c.games))
	for _, g := range c.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
