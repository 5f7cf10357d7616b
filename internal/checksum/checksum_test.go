package checksum

import "testing"

type position struct {
	X, Y float32
}

type named struct {
	Name  string
	Score int
}

func (n named) HashInto(h *Hasher) {
	h.WriteString(n.Name)
	h.WriteInt(n.Score)
}

func TestOfIsDeterministic(t *testing.T) {
	first, err := Of(position{X: 1, Y: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _ := Of(position{X: 1, Y: 2})
	if first != second {
		t.Fatalf("expected identical parts, got %x and %x", first, second)
	}
	changed, _ := Of(position{X: 1, Y: 2.5})
	if changed == first {
		t.Fatalf("expected a different part after changing a field")
	}
}

func TestOfUsesHashable(t *testing.T) {
	a, err := Of(named{Name: "ab", Score: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := Of(named{Name: "a", Score: 1})
	if a == b {
		t.Fatalf("expected length-prefixed strings to hash differently")
	}
}

func TestOfRejectsVariableSizeValues(t *testing.T) {
	if _, err := Of(map[string]int{"a": 1}); err == nil {
		t.Fatalf("expected error for a map value")
	}
}

func TestAggregatorIgnoresInsertionOrder(t *testing.T) {
	var a, b Aggregator
	a.Set("transform", 1)
	a.Set("velocity", 2)
	b.Set("velocity", 2)
	b.Set("transform", 1)
	if a.Sum() != b.Sum() {
		t.Fatalf("expected equal sums regardless of order")
	}
}

func TestAggregatorDetectsChangedPart(t *testing.T) {
	var agg Aggregator
	agg.Set("transform", 1)
	agg.Set("velocity", 2)
	before := agg.Sum()

	agg.Set("velocity", 3)
	if agg.Sum() == before {
		t.Fatalf("expected sum to change when a part changes")
	}

	agg.Set("velocity", 2)
	if agg.Sum() != before {
		t.Fatalf("expected sum to be restored with the original part")
	}
}

func TestAggregatorBindsPartsToKinds(t *testing.T) {
	var a, b Aggregator
	a.Set("transform", 1)
	a.Set("velocity", 2)
	b.Set("transform", 2)
	b.Set("velocity", 1)
	if a.Sum() == b.Sum() {
		t.Fatalf("swapping parts between kinds must change the sum")
	}
}

func TestAggregatorReset(t *testing.T) {
	var agg, empty Aggregator
	agg.Set("transform", 1)
	agg.Reset()
	if agg.Len() != 0 {
		t.Fatalf("expected no parts after reset, got %d", agg.Len())
	}
	if agg.Sum() != empty.Sum() {
		t.Fatalf("expected reset aggregator to match an empty one")
	}
}
