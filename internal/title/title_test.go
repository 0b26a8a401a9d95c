package title

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases and trims", "  Solo Leveling  ", "solo leveling"},
		{"collapses punctuation runs", "Re:Zero -- Kara Hajimeru!!", "re zero kara hajimeru"},
		{"keeps digits", "Kaiju No. 8", "kaiju no 8"},
		{"keeps native script", "俺だけレベルアップな件", "俺だけレベルアップな件"},
		{"folds full width", "ＳＯＬＯ　Ｌｅｖｅｌｉｎｇ", "solo leveling"},
		{"falls back when nothing survives", "  !?!  ", "!?!"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Solo Leveling",
		"  The Beginning After the End: Side Story  ",
		"Kaiju No. 8",
		"!!!",
		"俺だけレベルアップな件",
		"ＳＯＬＯ　Ｌｅｖｅｌｉｎｇ",
		"a---b___c",
		"",
		" . ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestBuildSearchTerms(t *testing.T) {
	ts := TitleSet{
		English:  "Solo Leveling",
		Title:    "Solo Leveling",
		Romaji:   "Na Honjaman Level Up",
		Native:   "나 혼자만 레벨업",
		Synonyms: []string{"Only I Level Up", "Solo Leveling: Ragnarok, Part 2"},
	}

	terms := BuildSearchTerms(ts, DefaultTermParams())
	require.NotEmpty(t, terms)

	keys := make(map[string]bool)
	for _, term := range terms {
		assert.False(t, keys[term.Key], "duplicate key %q", term.Key)
		keys[term.Key] = true
	}

	for i := 1; i < len(terms); i++ {
		assert.GreaterOrEqual(t, terms[i-1].Score, terms[i].Score)
	}

	// Synonyms carry the highest bias, native script the lowest.
	assert.Equal(t, SourceSynonym, terms[0].Source)
	assert.Equal(t, SourceNative, terms[len(terms)-1].Source)
	// The de-punctuated variant shares the synonym's key and loses to it.
	assert.Contains(t, Texts(terms), "Solo Leveling: Ragnarok, Part 2")
	assert.NotContains(t, Texts(terms), "Solo Leveling Ragnarok Part 2")
}

func TestBuildSearchTermsPlainVariantWinsWithBias(t *testing.T) {
	params := DefaultTermParams()
	params.Bias[SourceSynonymPlain] = 0.5

	terms := BuildSearchTerms(TitleSet{Synonyms: []string{"Re:Monster, Side"}}, params)
	require.Len(t, terms, 1)
	assert.Equal(t, "Re Monster Side", terms[0].Text)
	assert.Equal(t, SourceSynonymPlain, terms[0].Source)
}

func TestBuildSearchTermsCapsResults(t *testing.T) {
	ts := TitleSet{Title: "Title"}
	for _, s := range []string{"one a", "two b", "three c", "four d", "five e", "six f", "seven g", "eight h", "nine i"} {
		ts.Synonyms = append(ts.Synonyms, s)
	}
	params := DefaultTermParams()
	params.MaxTerms = 3
	assert.Len(t, BuildSearchTerms(ts, params), 3)
}

func TestBuildSearchTermsSkipsEmpty(t *testing.T) {
	assert.Empty(t, BuildSearchTerms(TitleSet{Synonyms: []string{"", "  "}}, DefaultTermParams()))
}

func TestLengthScore(t *testing.T) {
	assert.Equal(t, 0.0, lengthScore(0))
	assert.InDelta(t, 0.5, lengthScore(3), 1e-9)
	assert.Equal(t, 1.0, lengthScore(6))
	assert.Equal(t, 1.0, lengthScore(40))
	assert.InDelta(t, 0.5, lengthScore(60), 1e-9)
	assert.Equal(t, 0.0, lengthScore(200))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		refs      []string
		want      float64
	}{
		{"exact after normalization", "SOLO LEVELING!", []string{"Solo Leveling"}, 1.0},
		{"containment", "Solo Leveling Side Story", []string{"Solo Leveling"}, 0.9},
		{"reverse containment", "Leveling", []string{"Solo Leveling"}, 0.9},
		{"no overlap", "One Piece", []string{"Solo Leveling"}, 0},
		{"empty refs", "Solo Leveling", nil, 0},
		{"best of refs", "Only I Level Up", []string{"Solo Leveling", "Only I Level Up"}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.candidate, tt.refs), 1e-9)
		})
	}
}

func TestScoreTokenOverlap(t *testing.T) {
	// 2 of 3 tokens shared: 0.5 + 0.35*(2/3)
	got := Score("Solo Leveling Ragnarok", []string{"Solo Leveling Arise"})
	assert.InDelta(t, 0.5+0.35*2.0/3.0, got, 1e-9)

	// capped below containment
	got = Score("sololeveling x", []string{"solo leveling"})
	assert.LessOrEqual(t, got, 0.88)
	assert.Greater(t, got, 0.0)
}

func TestAutoSelect(t *testing.T) {
	params := DefaultMatchParams()

	t.Run("near duplicates stay ambiguous", func(t *testing.T) {
		ranked := Rank([]Candidate{
			{Provider: "a", ID: "1", Title: "Solo Leveling"},
			{Provider: "a", ID: "2", Title: "Solo Leveling Side Story"},
		}, []string{"Solo Leveling"})
		require.Len(t, ranked, 2)
		assert.Equal(t, 1.0, ranked[0].Score)
		_, ok := AutoSelect(ranked, params)
		assert.False(t, ok)
	})

	t.Run("single candidate always selects", func(t *testing.T) {
		ranked := Rank([]Candidate{{Provider: "a", ID: "9", Title: "Something Else"}}, []string{"Solo Leveling"})
		got, ok := AutoSelect(ranked, params)
		assert.True(t, ok)
		assert.Equal(t, "9", got.ID)
	})

	t.Run("clear winner selects", func(t *testing.T) {
		ranked := Rank([]Candidate{
			{Provider: "a", ID: "1", Title: "Solo Leveling"},
			{Provider: "a", ID: "2", Title: "Leveling Up Alone Forever"},
		}, []string{"Solo Leveling"})
		got, ok := AutoSelect(ranked, params)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("empty", func(t *testing.T) {
		_, ok := AutoSelect(nil, params)
		assert.False(t, ok)
	})
}

func TestRankIsOrderIndependent(t *testing.T) {
	refs := []string{"Solo Leveling"}
	a := []Candidate{
		{Provider: "c", ID: "2", Title: "Solo Leveling"},
		{Provider: "a", ID: "1", Title: "Solo Leveling"},
		{Provider: "b", ID: "3", Title: "Solo Leveling Side Story"},
	}
	b := []Candidate{a[2], a[0], a[1]}
	assert.Equal(t, Rank(a, refs), Rank(b, refs))
}
