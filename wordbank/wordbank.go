package wordbank

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
)

var ErrInsufficientWords = errors.New("not enough unused words for the requested options")

type Category string

const (
	CategoryAnimals Category = "animals"
	CategoryFood    Category = "food"
	CategoryObjects Category = "objects"
	CategoryNature  Category = "nature"
	CategoryActions Category = "actions"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Match is the word bank's verdict on a non-exact guess path.
type Match string

const (
	MatchCorrect Match = "correct"
	MatchClose   Match = "close"
	MatchWrong   Match = "wrong"
)

// Bank supplies words and tracks which ones a game session has
// already consumed. Sessions are keyed by room code; the used set is
// cleared on game reset.
type Bank struct {
	mu   sync.Mutex
	used map[string]map[string]struct{}
}

func NewBank() *Bank {
	return &Bank{used: make(map[string]map[string]struct{})}
}

// WordOptions samples count distinct unused words from the pool
// filtered by difficulty and category (empty means any). Custom words
// join the pool as-is.
func (b *Bank) WordOptions(sessionID string, count int, difficulty Difficulty, category Category, custom []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.used[sessionID]
	var pool []string
	for cat, tiers := range defaultWords {
		if category != "" && cat != category {
			continue
		}
		for tier, words := range tiers {
			if difficulty != "" && tier != difficulty {
				continue
			}
			for _, w := range words {
				if _, taken := used[strings.ToLower(w)]; !taken {
					pool = append(pool, w)
				}
			}
		}
	}
	for _, w := range custom {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, taken := used[strings.ToLower(w)]; !taken {
			pool = append(pool, w)
		}
	}

	if len(pool) < count {
		return nil, ErrInsufficientWords
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:count], nil
}

// MarkUsed records a word against the session. Called only when the
// drawer actually picks it; offered but unpicked options stay
// available.
func (b *Bank) MarkUsed(sessionID, word string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	used, ok := b.used[sessionID]
	if !ok {
		used = make(map[string]struct{})
		b.used[sessionID] = used
	}
	used[strings.ToLower(word)] = struct{}{}
}

// ResetGameWords clears the session's used set so a replayed game can
// draw from the full pool again.
func (b *Bank) ResetGameWords(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.used, sessionID)
}

const (
	similarityThreshold = 0.75
	prefixShare         = 0.7
)

// CheckGuess judges a guess against the secret word. The checks run
// in a fixed order and the first hit wins: exact match, sequence
// similarity, plural normalization, single-edit distance, then long
// shared prefix.
func CheckGuess(word, guess string) Match {
	w := strings.ToLower(strings.TrimSpace(word))
	g := strings.ToLower(strings.TrimSpace(guess))
	if w == "" || g == "" {
		return MatchWrong
	}
	if w == g {
		return MatchCorrect
	}
	if similarity(w, g) >= similarityThreshold {
		return MatchClose
	}
	if normalizePlural(w) == normalizePlural(g) {
		return MatchClose
	}
	if editDistanceIsOne(w, g) {
		return MatchClose
	}
	if len(w) >= 4 {
		shared := commonPrefixLen(w, g)
		if float64(shared) >= prefixShare*float64(len(w)) {
			return MatchClose
		}
	}
	return MatchWrong
}

// similarity is 2*LCS/(len(a)+len(b)), the classic sequence ratio.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	lcs := longestCommonSubsequence(a, b)
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

func longestCommonSubsequence(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// normalizePlural strips the common English plural suffixes: s, es,
// and the y/ies alternation.
func normalizePlural(s string) string {
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "es") && len(s) > 2:
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s") && len(s) > 1:
		return s[:len(s)-1]
	}
	return s
}

// editDistanceIsOne reports whether exactly one substitution,
// insertion, or deletion separates the strings.
func editDistanceIsOne(a, b string) bool {
	la, lb := len(a), len(b)
	if la > lb {
		a, b = b, a
		la, lb = lb, la
	}
	if lb-la > 1 {
		return false
	}
	if la == lb {
		diffs := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diffs++
				if diffs > 1 {
					return false
				}
			}
		}
		return diffs == 1
	}
	// One insertion into the shorter string.
	i, j := 0, 0
	skipped := false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
