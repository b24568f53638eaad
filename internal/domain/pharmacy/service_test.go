package pharmacy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name   string
		qty    int
		expiry *time.Time
		want   DrugStatus
	}{
		{"plenty no expiry", 50, nil, DrugInStock},
		{"just above threshold", LowStockThreshold + 1, &future, DrugInStock},
		{"at threshold", LowStockThreshold, nil, DrugLowStock},
		{"one left", 1, nil, DrugLowStock},
		{"empty", 0, &future, DrugOutOfStock},
		{"expired overrides quantity", 500, &past, DrugExpired},
		{"expired and empty", 0, &past, DrugExpired},
		{"expiring exactly now is not expired", 20, ptrTime(fixedNow), DrugInStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.qty, tt.expiry, fixedNow)
			if got != tt.want {
				t.Errorf("Classify(%d) = %s, want %s", tt.qty, got, tt.want)
			}
			if again := Classify(tt.qty, tt.expiry, fixedNow); again != got {
				t.Errorf("Classify is not stable: %s then %s", got, again)
			}
		})
	}
}

func TestCreateDrug(t *testing.T) {
	f := newFixture()
	d, err := f.svc.CreateDrug(context.Background(), &DrugRequest{
		Name: " Paracetamol ", DosageForm: "tablet", Quantity: 8, UnitPrice: decimal.RequireFromString("2.50"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "Paracetamol" {
		t.Errorf("expected trimmed name, got %q", d.Name)
	}
	if d.Status != DrugLowStock {
		t.Errorf("expected LOW_STOCK, got %s", d.Status)
	}
	if !d.UnitPrice.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("unexpected price %s", d.UnitPrice)
	}
}

func TestCreateDrug_Validation(t *testing.T) {
	f := newFixture()
	cases := []*DrugRequest{
		{Name: "", Quantity: 1},
		{Name: "X", Quantity: -1},
		{Name: "X", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)},
	}
	for _, req := range cases {
		if _, err := f.svc.CreateDrug(context.Background(), req); err == nil {
			t.Errorf("expected error for %+v", req)
		}
	}
}

func TestDispense_Scenario(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Ibuprofen", 5, nil)

	got, err := f.svc.Dispense(context.Background(), d.ID, 3)
	if err != nil {
		t.Fatalf("first dispense: %v", err)
	}
	if got.Quantity != 2 || got.Status != DrugLowStock {
		t.Errorf("expected 2 LOW_STOCK, got %d %s", got.Quantity, got.Status)
	}

	_, err = f.svc.Dispense(context.Background(), d.ID, 3)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	stored, _ := f.drugs.GetByID(context.Background(), d.ID)
	if stored.Quantity != 2 {
		t.Errorf("quantity must be unchanged after failed dispense, got %d", stored.Quantity)
	}
}

func TestDispense_ToZeroEmitsStockChange(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Insulin", 12, nil)

	got, err := f.svc.Dispense(context.Background(), d.ID, 12)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Quantity != 0 || got.Status != DrugOutOfStock {
		t.Errorf("expected 0 OUT_OF_STOCK, got %d %s", got.Quantity, got.Status)
	}
	types := f.events.types()
	if len(types) != 2 || types[0] != "drug.dispensed" || types[1] != "drug.stock_changed" {
		t.Errorf("unexpected events %v", types)
	}
}

func TestDispense_InvalidAmount(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Aspirin", 5, nil)
	if _, err := f.svc.Dispense(context.Background(), d.ID, 0); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestDispense_UnknownDrug(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Dispense(context.Background(), uuid.New(), 1); !errors.Is(err, ErrDrugNotFound) {
		t.Errorf("expected ErrDrugNotFound, got %v", err)
	}
}

func TestDispense_RetriesLostRace(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Amoxicillin", 20, nil)

	lost := 2
	f.drugs.casHook = func() bool {
		if lost > 0 {
			lost--
			return false
		}
		return true
	}
	got, err := f.svc.Dispense(context.Background(), d.ID, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Quantity != 15 {
		t.Errorf("expected 15, got %d", got.Quantity)
	}
}

func TestDispense_ContentionExhausted(t *testing.T) {
	f := newFixture(WithMaxRetries(3))
	d := f.seedDrug("Morphine", 20, nil)
	f.drugs.casHook = func() bool { return false }

	_, err := f.svc.Dispense(context.Background(), d.ID, 1)
	if !errors.Is(err, ErrStockContention) {
		t.Fatalf("expected ErrStockContention, got %v", err)
	}
	stored, _ := f.drugs.GetByID(context.Background(), d.ID)
	if stored.Quantity != 20 {
		t.Errorf("quantity changed to %d", stored.Quantity)
	}
}

func TestDispense_ConcurrentNeverOversells(t *testing.T) {
	drugs, rx, events := newMockDrugRepo(), newMockRxRepo(), &recordingWriter{}
	svc := NewService(drugs, rx, passthroughTx{}, events, zerolog.Nop(), nil, WithMaxRetries(10000))
	d := &Drug{Name: "Saline", Quantity: 100}
	_ = drugs.Create(context.Background(), d)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, rejected int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Dispense(context.Background(), d.ID, 3)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, _ := drugs.GetByID(context.Background(), d.ID)
	if ok != 33 || rejected != 17 {
		t.Errorf("expected 33 dispensed and 17 rejected, got %d and %d", ok, rejected)
	}
	if stored.Quantity != 1 {
		t.Errorf("expected 1 left, got %d", stored.Quantity)
	}
}

func TestUpdateQuantity(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Heparin", 50, nil)

	if _, err := f.svc.UpdateQuantity(context.Background(), d.ID, -1); !errors.Is(err, ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}

	got, err := f.svc.UpdateQuantity(context.Background(), d.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != DrugOutOfStock {
		t.Errorf("expected OUT_OF_STOCK, got %s", got.Status)
	}
	if types := f.events.types(); len(types) != 1 || types[0] != "drug.stock_changed" {
		t.Errorf("unexpected events %v", types)
	}
}

func TestUpdateQuantity_IsAbsoluteUnderContention(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Heparin", 50, nil)
	f.drugs.casHook = func() bool { return false }

	got, err := f.svc.UpdateQuantity(context.Background(), d.ID, 8)
	if err != nil {
		t.Fatalf("a stock count must not depend on winning a race, got %v", err)
	}
	if got.Quantity != 8 || got.Status != DrugLowStock {
		t.Errorf("expected 8 LOW_STOCK, got %d %s", got.Quantity, got.Status)
	}
	stored, _ := f.drugs.GetByID(context.Background(), d.ID)
	if stored.Quantity != 8 || stored.Status != DrugLowStock {
		t.Errorf("expected stored 8 LOW_STOCK, got %d %s", stored.Quantity, stored.Status)
	}

	if _, err := f.svc.UpdateQuantity(context.Background(), uuid.New(), 1); !errors.Is(err, ErrDrugNotFound) {
		t.Errorf("expected ErrDrugNotFound, got %v", err)
	}
}

func TestUpdateDrug_Reclassifies(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Warfarin", 50, nil)

	past := fixedNow.Add(-time.Minute)
	got, err := f.svc.UpdateDrug(context.Background(), d.ID, &DrugRequest{Name: "Warfarin", Quantity: 50, ExpiryDate: &past})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != DrugExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
}

func TestCheckStockLevel_PersistsReclassification(t *testing.T) {
	f := newFixture()
	expiry := fixedNow.Add(time.Hour)
	d := f.seedDrug("Vaccine", 30, &expiry)

	later := fixedNow.Add(2 * time.Hour)
	f.svc.now = func() time.Time { return later }

	got, err := f.svc.CheckStockLevel(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != DrugExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
	stored, _ := f.drugs.GetByID(context.Background(), d.ID)
	if stored.Status != DrugExpired {
		t.Errorf("status not persisted: %s", stored.Status)
	}
}

func TestMarkExpired(t *testing.T) {
	f := newFixture()
	d := f.seedDrug("Codeine", 30, nil)

	got, err := f.svc.MarkExpired(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != DrugExpired {
		t.Errorf("expected EXPIRED, got %s", got.Status)
	}
	if _, err := f.svc.MarkExpired(context.Background(), uuid.New()); !errors.Is(err, ErrDrugNotFound) {
		t.Errorf("expected ErrDrugNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture()
	soon := fixedNow.Add(time.Hour)
	f.seedDrug("A", 30, &soon)
	f.seedDrug("B", 30, &soon)
	f.seedDrug("C", 30, nil)

	f.svc.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	n, err := f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 expired, got %d", n)
	}
	expired, _ := f.svc.ListDrugsByStatus(context.Background(), DrugExpired)
	if len(expired) != 2 {
		t.Errorf("expected 2 EXPIRED drugs, got %d", len(expired))
	}

	n, _ = f.svc.SweepExpired(context.Background())
	if n != 0 {
		t.Errorf("second sweep should be a no-op, got %d", n)
	}
}

func TestSearchAndLowStock(t *testing.T) {
	f := newFixture()
	f.seedDrug("Paracetamol", 5, nil)
	f.seedDrug("Paroxetine", 100, nil)
	f.seedDrug("Ibuprofen", 10, nil)

	found, _ := f.svc.SearchDrugs(context.Background(), "PAR")
	if len(found) != 2 {
		t.Errorf("expected 2 matches, got %d", len(found))
	}
	low, _ := f.svc.ListLowStock(context.Background())
	if len(low) != 2 {
		t.Errorf("expected 2 low stock drugs, got %d", len(low))
	}
	if _, err := f.svc.ListDrugsByStatus(context.Background(), "BOGUS"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}
