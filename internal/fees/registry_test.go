package fees

import (
	"os"
	"path/filepath"
	"testing"

	"arbscan/internal/models"
)

func TestDefaultFees(t *testing.T) {
	r := NewRegistry()

	hl := r.Get(models.ExchangeHyperliquid)
	if hl.TakerFeeBps != 3.5 || hl.GasEstimateUsd != 0 {
		t.Errorf("hyperliquid: %+v", hl)
	}
	pd := r.Get(models.ExchangeParadex)
	if pd.TakerFeeBps != 3.5 || pd.MakerFeeBps != 2.0 {
		t.Errorf("paradex: %+v", pd)
	}

	// Неизвестная биржа - нулевая структура, не паника
	unknown := r.Get(models.Exchange("binance"))
	if unknown.TakerFeeBps != 0 {
		t.Errorf("неизвестная биржа: %+v", unknown)
	}
}

func TestRoundTripFees(t *testing.T) {
	r := NewRegistry()

	totalBps, totalGas := r.RoundTripFees(models.ExchangeHyperliquid, models.ExchangeParadex)
	if totalBps != 7.0 {
		t.Errorf("totalBps = %v, ожидали 7.0 (3.5 + 3.5)", totalBps)
	}
	if totalGas != 0.05 {
		t.Errorf("totalGas = %v, ожидали 0.05", totalGas)
	}
}

func TestLoadFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fees.yaml")
	content := `
paradex:
  taker_fee_bps: 3.0
  maker_fee_bps: 1.5
  gas_estimate_usd: 0.04
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("запись файла: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	pd := r.Get(models.ExchangeParadex)
	if pd.TakerFeeBps != 3.0 || pd.MakerFeeBps != 1.5 || pd.GasEstimateUsd != 0.04 {
		t.Errorf("переопределение не применилось: %+v", pd)
	}

	// Биржи, которых нет в файле, сохраняют дефолты
	hl := r.Get(models.ExchangeHyperliquid)
	if hl.TakerFeeBps != 3.5 {
		t.Errorf("hyperliquid потерял дефолты: %+v", hl)
	}
}

func TestLoadFileErrors(t *testing.T) {
	r := NewRegistry()

	if err := r.LoadFile("/nonexistent/fees.yaml"); err == nil {
		t.Error("несуществующий файл должен возвращать ошибку")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
		t.Fatalf("запись файла: %v", err)
	}
	if err := r.LoadFile(path); err == nil {
		t.Error("битый YAML должен возвращать ошибку")
	}
}
