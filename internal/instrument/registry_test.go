package instrument

import "testing"

func TestRegistryGetKnownSymbol(t *testing.T) {
	t.Parallel()
	r := BuildFromSymbols([]string{"BTCUSDT", "ETHUSDT"})
	inst, err := r.Get("BTCUSDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inst.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %s, want BTCUSDT", inst.Symbol)
	}
}

func TestRegistryGetUnknownSymbolErrors(t *testing.T) {
	t.Parallel()
	r := BuildFromSymbols([]string{"BTCUSDT"})
	if _, err := r.Get("DOGEUSDT"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}
