package lexical_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"medrag/internal/lexical"
)

func TestTerms(t *testing.T) {
	got := lexical.Terms("The Flu has a FEVER and cough's")
	gt.Value(t, got).Equal([]string{"flu", "has", "fever", "cough's"})
}

func TestOchiai(t *testing.T) {
	t.Run("identical sets score one", func(t *testing.T) {
		a := lexical.NewTokenSet("fever cough")
		gt.Number(t, lexical.Ochiai(a, a)).Equal(1)
	})

	t.Run("partial overlap", func(t *testing.T) {
		a := lexical.NewTokenSet("fever")
		b := lexical.NewTokenSet("flu has symptom fever")
		gt.Number(t, lexical.Ochiai(a, b)).Equal(0.5)
	})

	t.Run("empty set scores zero", func(t *testing.T) {
		gt.Number(t, lexical.Ochiai(lexical.NewTokenSet("the of"), lexical.NewTokenSet("fever"))).Equal(0)
	})
}
