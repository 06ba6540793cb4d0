// internal/generator/generator.go
package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcadia-gg/arcadia/internal/session"
)

// Board size and tag bounds. Sizes outside the range are clamped, never
// rejected; tag toggles past the cap are no-ops.
const (
	MinBoardSize = 3
	MaxBoardSize = 6
	MaxTags      = 10
)

// Generation modes accepted by Generate.
const (
	ModeQuick  = "quick"
	ModeCustom = "custom"
)

// ErrInvalidMode is returned for any mode other than quick or custom.
var ErrInvalidMode = errors.New("Invalid generation mode")

// ErrEmptyCardPool is returned when the card source yields no entries.
var ErrEmptyCardPool = errors.New("Card pool is empty")

// OptimizedHighlight is the color appended to every cell by OptimizeBoard.
const OptimizedHighlight = "#FFD700"

// CardPoolEntry is one candidate challenge sourced externally. Never
// mutated by the generator.
type CardPoolEntry struct {
	Text string   `json:"text"`
	Tier int      `json:"tier"`
	Tags []string `json:"tags"`
}

// CardSource supplies the card pool a board is generated from.
type CardSource interface {
	Cards(ctx context.Context) ([]CardPoolEntry, error)
}

// StaticSource is a fixed in-memory card pool.
type StaticSource []CardPoolEntry

// Cards implements CardSource.
func (s StaticSource) Cards(ctx context.Context) ([]CardPoolEntry, error) {
	return s, nil
}

// TagPolicy decides whether a tag selection is acceptable. Injected so the
// platform's tag catalog can evolve without touching the generator.
type TagPolicy interface {
	Validate(tags []string) bool
}

// TagPolicyFunc adapts a func to TagPolicy.
type TagPolicyFunc func(tags []string) bool

// Validate implements TagPolicy.
func (f TagPolicyFunc) Validate(tags []string) bool { return f(tags) }

// defaultTagPolicy accepts up to MaxTags non-empty tags.
func defaultTagPolicy(tags []string) bool {
	if len(tags) > MaxTags {
		return false
	}
	for _, tag := range tags {
		if tag == "" {
			return false
		}
	}
	return true
}

// Settings constrain board generation.
type Settings struct {
	BoardSize int      `json:"boardSize"`
	Tags      []string `json:"tags"`
}

// Generator builds candidate boards from a card pool under the current
// settings. Pure apart from reading the card source; it never touches the
// session store.
type Generator struct {
	source CardSource
	policy TagPolicy
	now    func() time.Time

	mu       sync.Mutex
	settings Settings
}

// NewGenerator builds a generator over source with a 5x5 default board and
// the default tag policy.
func NewGenerator(source CardSource) *Generator {
	return &Generator{
		source:   source,
		policy:   TagPolicyFunc(defaultTagPolicy),
		now:      time.Now,
		settings: Settings{BoardSize: 5},
	}
}

// SetTagPolicy replaces the tag validation policy.
func (g *Generator) SetTagPolicy(policy TagPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// Settings returns a copy of the current settings.
func (g *Generator) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Settings{
		BoardSize: g.settings.BoardSize,
		Tags:      append([]string(nil), g.settings.Tags...),
	}
}

// UpdateSettings applies s, clamping BoardSize into [MinBoardSize,
// MaxBoardSize] and truncating the tag selection at MaxTags.
func (g *Generator) UpdateSettings(s Settings) {
	size := s.BoardSize
	if size < MinBoardSize {
		size = MinBoardSize
	}
	if size > MaxBoardSize {
		size = MaxBoardSize
	}
	tags := append([]string(nil), s.Tags...)
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.settings.BoardSize = size
	g.settings.Tags = tags
}

// ToggleTag flips tag's membership in the selection. Adding an 11th tag is
// a no-op.
func (g *Generator) ToggleTag(tag string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.settings.Tags {
		if existing == tag {
			g.settings.Tags = append(g.settings.Tags[:i], g.settings.Tags[i+1:]...)
			return
		}
	}
	if len(g.settings.Tags) >= MaxTags {
		return
	}
	g.settings.Tags = append(g.settings.Tags, tag)
}

// ValidateTags reports whether tags pass the configured policy. No network,
// no mutation.
func (g *Generator) ValidateTags(tags []string) bool {
	g.mu.Lock()
	policy := g.policy
	g.mu.Unlock()
	return policy.Validate(tags)
}

// Generate builds a candidate board. Mode must be quick or custom; the
// card pool must be non-empty. Both violations are returned to the caller
// rather than absorbed, since they indicate programmer error or an
// unrecoverable precondition.
func (g *Generator) Generate(ctx context.Context, mode string) ([]session.BoardCell, error) {
	if mode != ModeQuick && mode != ModeCustom {
		return nil, ErrInvalidMode
	}

	pool, err := g.source.Cards(ctx)
	if err != nil {
		return nil, fmt.Errorf("load card pool: %w", err)
	}
	if len(pool) == 0 {
		return nil, ErrEmptyCardPool
	}

	settings := g.Settings()
	switch mode {
	case ModeQuick:
		return g.quickBoard(pool, settings), nil
	default:
		return g.customBoard(pool, settings), nil
	}
}

// quickBoard fills the board with numbered placeholder cards, one per pool
// entry up to the board's capacity.
func (g *Generator) quickBoard(pool []CardPoolEntry, settings Settings) []session.BoardCell {
	n := settings.BoardSize * settings.BoardSize
	if len(pool) < n {
		n = len(pool)
	}
	cells := make([]session.BoardCell, n)
	for i := range cells {
		cells[i] = session.BoardCell{
			CellID: fmt.Sprintf("quick-%d", i+1),
			Text:   fmt.Sprintf("Quick Card %d", i+1),
			Colors: []string{},
		}
	}
	return cells
}

// customBoard filters the pool by the selected tags (an empty selection
// admits everything), orders by tier then text for determinism, and takes
// up to the board's capacity.
func (g *Generator) customBoard(pool []CardPoolEntry, settings Settings) []session.BoardCell {
	selected := make(map[string]bool, len(settings.Tags))
	for _, tag := range settings.Tags {
		selected[tag] = true
	}

	candidates := make([]CardPoolEntry, 0, len(pool))
	for _, entry := range pool {
		if len(selected) == 0 || hasAnyTag(entry, selected) {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		// Tag filter excluded everything; fall back to the whole pool
		// rather than produce an empty board.
		candidates = pool
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Tier != candidates[j].Tier {
			return candidates[i].Tier < candidates[j].Tier
		}
		return candidates[i].Text < candidates[j].Text
	})

	n := settings.BoardSize * settings.BoardSize
	if len(candidates) < n {
		n = len(candidates)
	}
	cells := make([]session.BoardCell, n)
	for i := 0; i < n; i++ {
		cells[i] = session.BoardCell{
			CellID: fmt.Sprintf("custom-%d", i+1),
			Text:   candidates[i].Text,
			Colors: []string{tierColor(candidates[i].Tier)},
		}
	}
	return cells
}

func hasAnyTag(entry CardPoolEntry, selected map[string]bool) bool {
	for _, tag := range entry.Tags {
		if selected[tag] {
			return true
		}
	}
	return false
}

func tierColor(tier int) string {
	switch {
	case tier <= 1:
		return "#4CAF50"
	case tier == 2:
		return "#FF9800"
	default:
		return "#F44336"
	}
}

// CheckBalance flags boards whose color distribution is lopsided: balanced
// means no single color claims more than half the cells and at most half
// the board is blocked. Advisory only; callers warn, never reject.
func (g *Generator) CheckBalance(board []session.BoardCell) bool {
	if len(board) == 0 {
		return true
	}
	colorCounts := make(map[string]int)
	blocked := 0
	for _, cell := range board {
		for _, color := range cell.Colors {
			colorCounts[color]++
		}
		if cell.Blocked {
			blocked++
		}
	}
	limit := (len(board) + 1) / 2
	for _, count := range colorCounts {
		if count > limit {
			return false
		}
	}
	return blocked <= limit
}

// OptimizeBoard applies the layout heuristic as a deterministic rewrite:
// text gains the "Optimized " prefix, the highlight color is appended,
// blocked is inverted, the cell id is namespaced and lastUpdated refreshed.
// Length and per-index correspondence with the input are preserved; the
// input board is untouched.
func (g *Generator) OptimizeBoard(board []session.BoardCell) []session.BoardCell {
	now := g.now()
	out := make([]session.BoardCell, len(board))
	for i, cell := range board {
		opt := cell.Clone()
		opt.Text = "Optimized " + cell.Text
		opt.Colors = append(opt.Colors, OptimizedHighlight)
		opt.Blocked = !cell.Blocked
		opt.CellID = "optimized-" + cell.CellID
		ts := now
		opt.LastUpdated = &ts
		out[i] = opt
	}
	return out
}
