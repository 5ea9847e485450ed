package attack

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"advsandbox/internal/inference"
	"advsandbox/internal/store"
)

// neighbors is the substitution table: near synonyms first, then words that
// flip sentiment.
var neighbors = map[string][]string{
	"amazing":   {"incredible", "astonishing", "terrible", "awful"},
	"awesome":   {"impressive", "remarkable", "dreadful", "awful"},
	"awful":     {"dreadful", "horrible", "amazing", "great"},
	"bad":       {"poor", "weak", "good", "fine"},
	"boring":    {"dull", "tedious", "exciting", "brilliant"},
	"brilliant": {"clever", "excellent", "boring", "dreadful"},
	"enjoyed":   {"liked", "relished", "hated", "despised"},
	"excellent": {"outstanding", "superb", "poor", "terrible"},
	"fantastic": {"fabulous", "wonderful", "horrible", "awful"},
	"good":      {"fine", "nice", "bad", "poor"},
	"great":     {"grand", "superb", "terrible", "bad"},
	"happy":     {"glad", "cheerful", "sad", "miserable"},
	"hate":      {"loathe", "dislike", "love", "enjoy"},
	"hated":     {"loathed", "disliked", "loved", "enjoyed"},
	"horrible":  {"ghastly", "awful", "wonderful", "great"},
	"love":      {"adore", "like", "hate", "despise"},
	"loved":     {"adored", "enjoyed", "hated", "despised"},
	"poor":      {"inferior", "weak", "excellent", "good"},
	"sad":       {"unhappy", "gloomy", "happy", "glad"},
	"terrible":  {"dreadful", "horrible", "amazing", "excellent"},
	"wonderful": {"marvelous", "lovely", "horrible", "terrible"},
}

// TextFooler is a greedy word-substitution attack: words are ranked by how much
// deleting them moves the prediction, then the most important words are
// swapped for the neighbor that best advances the objective.
type TextFooler struct{}

func NewTextFooler() *TextFooler { return &TextFooler{} }

func (t *TextFooler) ID() string   { return "textfooler" }
func (t *TextFooler) Name() string { return "TextFooler" }
func (t *TextFooler) Description() string {
	return "Greedy word-importance ranking followed by neighbor substitution for text classifiers."
}
func (t *TextFooler) Modalities() []store.Modality {
	return []store.Modality{store.ModalityNLP}
}
func (t *TextFooler) DefaultTimeout() time.Duration { return 2 * time.Minute }

func (t *TextFooler) Params() []ParamSpec {
	return []ParamSpec{
		{Name: "max_candidates", Description: "Neighbors tried per word", Min: 1, Max: 50, Default: 10, Integer: true},
		{Name: "num_words_to_change", Description: "Upper bound on substituted words", Min: 1, Max: 20, Default: 2, Integer: true},
	}
}

type substitution struct {
	Position    int    `json:"position"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

func (t *TextFooler) Run(ctx context.Context, p inference.Predictor, in inference.Input, target string, params Params, progress ProgressFunc) (*Outcome, error) {
	if in.Modality != store.ModalityNLP {
		return nil, failf(t.ID(), "textfooler requires text input, got %s", in.Modality)
	}
	if err := checkTarget(t.ID(), p, target); err != nil {
		return nil, err
	}

	maxCandidates := params.Int("max_candidates")
	budget := params.Int("num_words_to_change")
	queries := 0

	predict := func(tokens []inference.Token) (inference.Prediction, error) {
		queries++
		return p.Predict(ctx, inference.Input{Modality: store.ModalityNLP, Text: inference.JoinTokens(tokens)})
	}

	tokens := inference.Tokenize(in.Text)
	orig, err := predict(tokens)
	if err != nil {
		return nil, err
	}
	current := score(orig, target, orig)

	// Rank candidate words by deletion importance.
	if err := progress(10, "ranking words"); err != nil {
		return nil, err
	}
	type ranked struct {
		index      int
		importance float64
	}
	var ranking []ranked
	for i, tok := range tokens {
		if _, ok := neighbors[strings.ToLower(tok.Core)]; !ok {
			continue
		}
		without := append(append([]inference.Token{}, tokens[:i]...), tokens[i+1:]...)
		pred, err := predict(without)
		if err != nil {
			return nil, err
		}
		ranking = append(ranking, ranked{index: i, importance: score(orig, target, pred) - current})
		if err := progress(scaleProgress(10, 40, i+1, len(tokens)), "ranking words"); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(ranking, func(a, b int) bool {
		return ranking[a].importance > ranking[b].importance
	})

	var (
		subs []substitution
		last = orig
	)
	for step, r := range ranking {
		if len(subs) >= budget || goal(orig, target, last) {
			break
		}

		tok := tokens[r.index]
		cands := neighbors[strings.ToLower(tok.Core)]
		if len(cands) > maxCandidates {
			cands = cands[:maxCandidates]
		}

		bestScore, bestWord := current, ""
		var bestPred inference.Prediction
		for _, cand := range cands {
			trial := append([]inference.Token{}, tokens...)
			trial[r.index].Core = matchCase(tok.Core, cand)
			pred, err := predict(trial)
			if err != nil {
				return nil, err
			}
			if s := score(orig, target, pred); s > bestScore {
				bestScore, bestWord, bestPred = s, trial[r.index].Core, pred
			}
		}

		if bestWord != "" {
			subs = append(subs, substitution{Position: r.index, Original: tok.Core, Replacement: bestWord})
			tokens[r.index].Core = bestWord
			current, last = bestScore, bestPred
		}
		if err := progress(scaleProgress(40, 90, step+1, len(ranking)), "substituting words"); err != nil {
			return nil, err
		}
	}

	if subs == nil {
		subs = []substitution{}
	}
	return &Outcome{
		Adversarial: inference.Input{Modality: store.ModalityNLP, Text: inference.JoinTokens(tokens)},
		Details: map[string]any{
			"words_changed":       len(subs),
			"substitutions":       subs,
			"num_words_to_change": budget,
			"max_candidates":      maxCandidates,
			"queries":             queries,
		},
	}, nil
}

// matchCase capitalizes repl when orig starts with an upper-case letter.
func matchCase(orig, repl string) string {
	r, _ := utf8.DecodeRuneInString(orig)
	if !unicode.IsUpper(r) || repl == "" {
		return repl
	}
	first, size := utf8.DecodeRuneInString(repl)
	return string(unicode.ToUpper(first)) + repl[size:]
}
