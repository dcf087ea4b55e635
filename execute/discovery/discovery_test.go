package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earth2dfm/dfm/api"
)

func literal(field string, v any) FieldAdvisor {
	return FieldAdvisor{
		Field: field,
		Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
			return Literal{Value: v}, nil
		},
	}
}

func suppliedMap(m map[string]any) func(string) (any, bool) {
	return func(field string) (any, bool) {
		v, ok := m[field]
		return v, ok
	}
}

func TestAdvisorOrdering(t *testing.T) {
	advisors := []FieldAdvisor{
		{Field: "last", Order: -1},
		{Field: "second", Order: 1},
		{Field: "first", Order: 0},
		{Field: "second-to-last", Order: -2},
	}
	sorted := sortAdvisors(advisors)
	got := make([]string, len(sorted))
	for i, a := range sorted {
		got[i] = a.Field
	}
	assert.Equal(t, []string{"first", "second", "second-to-last", "last"}, got)
}

func TestBuildSingleChain(t *testing.T) {
	advisors := []FieldAdvisor{
		literal("variable", "temperature"),
		literal("format", "png"),
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)

	first, ok := tree.(api.SingleFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, "variable", first.Name)
	assert.Equal(t, "temperature", first.Edge.Value)

	second, ok := first.Edge.Next.(api.SingleFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, "format", second.Name)
	assert.Equal(t, "png", second.Edge.Value)
	assert.Nil(t, second.Edge.Next)
}

func TestBuildBranchingSplit(t *testing.T) {
	advisors := []FieldAdvisor{
		{
			Field: "source",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return OneOf{Values: []any{"era5", "hrrr"}, SplitOnAdvice: true}, nil
			},
		},
		{
			Field: "variable",
			Order: 1,
			Advise: func(ctx context.Context, ec *EdgeContext) (AdvisedValue, error) {
				source, ok := ec.Get("source")
				require.True(t, ok)
				if source == "era5" {
					return Literal{Value: "t2m"}, nil
				}
				return Literal{Value: "refc"}, nil
			},
		},
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)

	branch, ok := tree.(api.BranchFieldAdvice)
	require.True(t, ok)
	require.Len(t, branch.Edges, 2)
	assert.Equal(t, "era5", branch.Edges[0].Value)
	assert.Equal(t, "t2m", branch.Edges[0].Next.(api.SingleFieldAdvice).Edge.Value)
	assert.Equal(t, "refc", branch.Edges[1].Next.(api.SingleFieldAdvice).Edge.Value)
}

func TestBuildPartialStopsTraversal(t *testing.T) {
	third := 0
	advisors := []FieldAdvisor{
		literal("first", "a"),
		{
			Field: "window",
			Order: 1,
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return DateRange{
					Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
					End:           time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
					BreakOnAdvice: true,
				}, nil
			},
		},
		{
			Field: "third",
			Order: 2,
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				third++
				return Literal{Value: "unreached"}, nil
			},
		},
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)
	assert.Zero(t, third, "advisors past the partial edge must not run")

	first := tree.(api.SingleFieldAdvice)
	window := first.Edge.Next.(api.SingleFieldAdvice)
	assert.Equal(t, "window", window.Name)
	partial, ok := window.Edge.Next.(api.PartialFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, "partial", partial.Partial)
}

func TestBuildOneOfBreakMarksEdgesPartial(t *testing.T) {
	next := 0
	advisors := []FieldAdvisor{
		{
			Field: "source",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return OneOf{Values: []any{"era5", "hrrr"}, SplitOnAdvice: true, BreakOnAdvice: true}, nil
			},
		},
		{
			Field: "variable",
			Order: 1,
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				next++
				return Literal{Value: "unreached"}, nil
			},
		},
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)
	assert.Zero(t, next, "advisors past the partial edges must not run")

	branch, ok := tree.(api.BranchFieldAdvice)
	require.True(t, ok)
	require.Len(t, branch.Edges, 2)
	for _, edge := range branch.Edges {
		partial, ok := edge.Next.(api.PartialFieldAdvice)
		require.True(t, ok)
		assert.Equal(t, "partial", partial.Partial)
	}
}

func TestBuildOneOfBreakWithoutSplit(t *testing.T) {
	advisors := []FieldAdvisor{
		{
			Field: "source",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return OneOf{Values: []any{"era5", "hrrr"}, BreakOnAdvice: true}, nil
			},
		},
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)

	node, ok := tree.(api.SingleFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, []any{"era5", "hrrr"}, node.Edge.Value)
	_, ok = node.Edge.Next.(api.PartialFieldAdvice)
	require.True(t, ok)
}

func TestBuildSuppliedValidContinues(t *testing.T) {
	advisors := []FieldAdvisor{
		{
			Field: "source",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return OneOf{Values: []any{"era5", "hrrr"}}, nil
			},
		},
		literal("format", "png"),
	}
	tree, err := Build(context.Background(), advisors, suppliedMap(map[string]any{"source": "era5"}))
	require.NoError(t, err)

	// The supplied field does not appear; the tree starts at the next field.
	first, ok := tree.(api.SingleFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, "format", first.Name)
}

func TestBuildSuppliedInvalidAttachesError(t *testing.T) {
	advisors := []FieldAdvisor{
		{
			Field: "source",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return OneOf{Values: []any{"era5"}}, nil
			},
		},
		literal("format", "png"),
	}
	tree, err := Build(context.Background(), advisors, suppliedMap(map[string]any{"source": "gfs"}))
	require.NoError(t, err)

	node, ok := tree.(api.SingleFieldAdvice)
	require.True(t, ok)
	assert.Equal(t, "source", node.Name)
	assert.Equal(t, "gfs", node.Edge.Value)
	errAdvice, ok := node.Edge.Next.(api.ErrorFieldAdvice)
	require.True(t, ok)
	assert.NotEmpty(t, errAdvice.Message)
}

func TestBuildAllErrorStillReturns(t *testing.T) {
	advisors := []FieldAdvisor{
		{
			Field: "anything",
			Advise: func(context.Context, *EdgeContext) (AdvisedValue, error) {
				return ErrorAdvice{Message: "no data available"}, nil
			},
		},
	}
	tree, err := Build(context.Background(), advisors, nil)
	require.NoError(t, err)
	node := tree.(api.SingleFieldAdvice)
	assert.Equal(t, "no data available", node.Edge.Next.(api.ErrorFieldAdvice).Message)
}

func TestBuildAllSuppliedYieldsNilTree(t *testing.T) {
	advisors := []FieldAdvisor{literal("format", "png")}
	tree, err := Build(context.Background(), advisors, suppliedMap(map[string]any{"format": "png"}))
	require.NoError(t, err)
	assert.Nil(t, tree)
}

func TestValidateKinds(t *testing.T) {
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		advice  AdvisedValue
		value   any
		wantErr bool
	}{
		{"literal match", Literal{Value: "x"}, "x", false},
		{"literal numeric widening", Literal{Value: 3}, float64(3), false},
		{"literal mismatch", Literal{Value: "x"}, "y", true},
		{"oneof match", OneOf{Values: []any{"a", "b"}}, "b", false},
		{"oneof mismatch", OneOf{Values: []any{"a"}}, "c", true},
		{"subset ok", SubsetOf{Values: []any{"a", "b", "c"}}, []any{"a", "c"}, false},
		{"subset extra", SubsetOf{Values: []any{"a"}}, []any{"a", "z"}, true},
		{"subset not list", SubsetOf{Values: []any{"a"}}, "a", true},
		{"range inside", DateRange{Start: jan.AddDate(0, 0, -1), End: jan.AddDate(0, 0, 1)}, jan, false},
		{"range outside", DateRange{Start: jan, End: jan}, jan.Add(time.Hour), true},
		{"range string", DateRange{Start: jan.Add(-time.Hour), End: jan.Add(time.Hour)}, jan.Format(time.RFC3339), false},
		{"dict ok", Dict{Entries: map[string]AdvisedValue{"k": Literal{Value: "v"}}}, map[string]any{"k": "v"}, false},
		{"dict extra rejected", Dict{Entries: map[string]AdvisedValue{"k": Okay{}}}, map[string]any{"k": 1, "z": 2}, true},
		{"dict extra allowed", Dict{Entries: map[string]AdvisedValue{"k": Okay{}}, AllowExtras: true}, map[string]any{"k": 1, "z": 2}, false},
		{"error always fails", ErrorAdvice{Message: "nope"}, "anything", true},
		{"okay always passes", Okay{}, 42, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.advice.Validate(tc.value)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
