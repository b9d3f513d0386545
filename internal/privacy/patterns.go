package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"go.uber.org/zap"
)

// PatternSet is the ordered collection of active PII rules. Rules are only
// ever appended; it is safe for concurrent use.
type PatternSet struct {
	mu         sync.RWMutex
	rules      []Rule
	generation uint64
	digest     string
	logger     *logger.Logger
}

// NewPatternSet creates a pattern set holding the built-in rules
func NewPatternSet(log *logger.Logger) *PatternSet {
	if log == nil {
		log = logger.NewNop()
	}

	ps := &PatternSet{
		rules:  GetDefaultRules(),
		logger: log,
	}
	ps.digest = digestRules(ps.rules)

	log.Debug("Pattern set initialized", zap.Int("builtin_rules", len(ps.rules)))

	return ps
}

// Matches reports whether any rule matches anywhere in text.
// Empty text never matches and no rule is evaluated for it.
func (ps *PatternSet) Matches(text string) bool {
	if text == "" {
		return false
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, rule := range ps.rules {
		if rule.Matches(text) {
			return true
		}
	}

	return false
}

// AddPattern compiles pattern and appends it to the rule sequence.
// On error the set is left unchanged.
func (ps *PatternSet) AddPattern(pattern string) error {
	if pattern == "" {
		return ErrEmptyPattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidPattern, pattern, err)
	}

	ps.mu.Lock()
	ps.rules = append(ps.rules, Rule{Pattern: re})
	ps.generation++
	ps.digest = digestRules(ps.rules)
	total := len(ps.rules)
	ps.mu.Unlock()

	ps.logger.Info("Detection rule added",
		zap.String("pattern", pattern),
		zap.Int("total_rules", total),
	)

	return nil
}

// Len returns the number of active rules
func (ps *PatternSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.rules)
}

// Patterns returns the source text of every rule in order
func (ps *PatternSet) Patterns() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	patterns := make([]string, len(ps.rules))
	for i, rule := range ps.rules {
		patterns[i] = rule.String()
	}
	return patterns
}

// Generation counts successful AddPattern calls. A verdict computed at one
// generation may differ from one computed at a later generation.
func (ps *PatternSet) Generation() uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.generation
}

// Digest identifies the rule sources in order. Two sets with the same
// rules produce the same digest in any process.
func (ps *PatternSet) Digest() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.digest
}

func digestRules(rules []Rule) string {
	h := sha256.New()
	for _, rule := range rules {
		src := rule.String()
		fmt.Fprintf(h, "%d:%s\n", len(src), src)
	}
	return hex.EncodeToString(h.Sum(nil))
}
