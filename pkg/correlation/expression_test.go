package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExpression(t *testing.T) {
	t.Run("valid expressions", func(t *testing.T) {
		for _, src := range []string{
			"A",
			"A && B",
			"A || B",
			"(A || B) && C",
			"A && (B || C) && D",
			"true || A",
			"a1 && _x2",
		} {
			expr, err := ParseExpression(src)
			require.NoError(t, err, src)
			assert.Equal(t, src, expr.String())
		}
	})

	t.Run("invalid expressions", func(t *testing.T) {
		for _, src := range []string{
			"",
			"A &",
			"A | B",
			"A && ",
			"(A && B",
			"A B",
			"&& A",
			"A # B",
		} {
			_, err := ParseExpression(src)
			assert.ErrorIs(t, err, ErrEvalFailed, src)
		}
	})
}

func TestExpressionEval(t *testing.T) {
	tests := []struct {
		name string
		src  string
		ctx  map[string]Truth
		want Truth
	}{
		{
			name: "and requires both abnormal",
			src:  "A && B",
			ctx:  map[string]Truth{"A": TruthAbnormal, "B": TruthNormal},
			want: TruthNormal,
		},
		{
			name: "and fires",
			src:  "A && B",
			ctx:  map[string]Truth{"A": TruthAbnormal, "B": TruthAbnormal},
			want: TruthAbnormal,
		},
		{
			name: "or fires on one",
			src:  "A || B",
			ctx:  map[string]Truth{"A": TruthNormal, "B": TruthAbnormal},
			want: TruthAbnormal,
		},
		{
			name: "missing alias counts as normal",
			src:  "A && B",
			ctx:  map[string]Truth{"A": TruthAbnormal},
			want: TruthNormal,
		},
		{
			name: "no data counts as normal",
			src:  "A || B",
			ctx:  map[string]Truth{"A": TruthNoData, "B": TruthNoData},
			want: TruthNormal,
		},
		{
			name: "and binds tighter than or",
			src:  "A || B && C",
			ctx:  map[string]Truth{"A": TruthAbnormal, "B": TruthNormal, "C": TruthAbnormal},
			want: TruthAbnormal,
		},
		{
			name: "parens override precedence",
			src:  "(A || B) && C",
			ctx:  map[string]Truth{"A": TruthAbnormal, "B": TruthNormal, "C": TruthNormal},
			want: TruthNormal,
		},
		{
			name: "constants",
			src:  "true && A",
			ctx:  map[string]Truth{"A": TruthAbnormal},
			want: TruthAbnormal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseExpression(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, expr.Eval(tt.ctx))
		})
	}
}

func TestExpressionAliases(t *testing.T) {
	expr, err := ParseExpression("A && (B || A) && true")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, expr.Aliases())
}

func TestExpressionTranslate(t *testing.T) {
	expr, err := ParseExpression("(A || B) && C")
	require.NoError(t, err)

	out := expr.Translate(map[string]string{
		"A": "cpu high",
		"B": "disk full",
		"C": "ping lost",
	})
	assert.Equal(t, "(cpu high || disk full) && ping lost", out)

	// unknown aliases render as themselves
	out = expr.Translate(map[string]string{"A": "cpu high"})
	assert.Equal(t, "(cpu high || B) && C", out)
}
