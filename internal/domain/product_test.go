package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func makeUpdater() *domain.ProductUpdater {
	p := domain.NewProductUpdater("prod-1", 4990, 0)
	p.SetStock("var-1", "40", 10)
	p.SetStock("var-1", "41", 3)
	p.SetStock("var-2", "M", 5)
	return p
}

func TestProductUpdater_Lookups(t *testing.T) {
	p := makeUpdater()

	if !p.HasVariant("var-1") || p.HasVariant("var-x") {
		t.Fatal("variant lookup failed")
	}
	if !p.HasSizeForVariant("var-1", "40") || p.HasSizeForVariant("var-1", "99") {
		t.Fatal("size lookup failed")
	}
	if !p.HasEnoughStock("var-1", "40", 10) || p.HasEnoughStock("var-1", "40", 11) {
		t.Fatal("stock check failed")
	}
}

func TestProductUpdater_SubtractStock(t *testing.T) {
	cases := []struct {
		name    string
		variant string
		size    string
		qty     int32
		want    error
	}{
		{"ок", "var-1", "40", 4, nil},
		{"неизвестный вариант", "var-x", "40", 1, domain.ErrInvalidVariant},
		{"неизвестный размер", "var-1", "99", 1, domain.ErrSizeNotAvailable},
		{"недостаточно остатка", "var-1", "41", 4, domain.ErrNotEnoughStock},
		{"нулевое количество", "var-1", "40", 0, domain.ErrInvalidQuantity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := makeUpdater()
			err := p.SubtractStock(tc.variant, tc.size, tc.qty)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := p.StockFor(tc.variant, tc.size); got != 6 {
					t.Fatalf("expected stock 6, got %d", got)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestProductUpdater_SubtractStock_NoPartialEffect(t *testing.T) {
	p := makeUpdater()
	// Ошибочное списание не должно трогать остатки.
	if err := p.SubtractStock("var-1", "41", 100); err == nil {
		t.Fatal("expected underflow error")
	}
	if got := p.StockFor("var-1", "41"); got != 3 {
		t.Fatalf("stock mutated on failed subtract: %d", got)
	}
}

func TestProductUpdater_AddStock(t *testing.T) {
	p := makeUpdater()

	if err := p.AddStock("var-1", "40", 5); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if got := p.StockFor("var-1", "40"); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}

	if err := p.AddStock("var-x", "40", 1); !errors.Is(err, domain.ErrInvalidVariant) {
		t.Fatalf("expected invalid variant, got %v", err)
	}
	if err := p.AddStock("var-1", "99", 1); !errors.Is(err, domain.ErrSizeNotAvailable) {
		t.Fatalf("expected size not available, got %v", err)
	}
}

func TestProductUpdater_Clone(t *testing.T) {
	p := makeUpdater()
	clone := p.Clone()

	if err := clone.SubtractStock("var-1", "40", 10); err != nil {
		t.Fatalf("subtract on clone: %v", err)
	}
	if got := p.StockFor("var-1", "40"); got != 10 {
		t.Fatalf("clone mutation leaked into original: %d", got)
	}
}
