package textutil

import (
	"reflect"
	"testing"
)

func TestParsePairs(t *testing.T) {
	t.Run("trims and skips incomplete entries", func(t *testing.T) {
		got := ParsePairs(" mercadopago = mp-secret ,stripe=whsec_1,broken,=orphan,empty=, ,stripe=whsec_2")
		want := map[string]string{
			"mercadopago": "mp-secret",
			"stripe":      "whsec_2",
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %#v got %#v", want, got)
		}
	})

	t.Run("keeps separators inside values", func(t *testing.T) {
		got := ParsePairs("prod:secret://payments/key=3")
		if got["prod:secret://payments/key"] != "3" {
			t.Fatalf("unexpected pairs %#v", got)
		}
	})

	t.Run("empty input yields empty map", func(t *testing.T) {
		got := ParsePairs("")
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil map, got %#v", got)
		}
	})
}

func TestLowerKeys(t *testing.T) {
	got := LowerKeys(map[string]string{"Prod": "rede-prod", "STRIPE": "whsec"})
	want := map[string]string{"prod": "rede-prod", "stripe": "whsec"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v got %#v", want, got)
	}
}
