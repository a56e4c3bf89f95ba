package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// A zero-value position has no risk rules armed.
	pos := Position{}
	if pos.StopLossPrice != 0 || pos.TakeProfitPrice != 0 {
		t.Error("expected zero-value Position to have no stop or target")
	}

	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}

	trade := Trade{
		TradeNumber: 1,
		EntryDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ExitDate:    time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
		ExitReason:  ExitEndOfData,
		OpenAtEnd:   true,
	}
	if !trade.OpenAtEnd || trade.ExitReason != ExitEndOfData {
		t.Errorf("trade = %+v, want open-at-end END_OF_DATA", trade)
	}
}

func TestSignalZeroValueIsHold(t *testing.T) {
	signals := make([]Signal, 3)
	for i, s := range signals {
		if s != SignalHold {
			t.Errorf("signals[%d] = %v, want HOLD", i, s)
		}
	}
}

func TestSignalString(t *testing.T) {
	cases := map[Signal]string{
		SignalHold:      "HOLD",
		SignalEnterLong: "ENTER_LONG",
		SignalExit:      "EXIT",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Signal(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestErrorClassesWrap(t *testing.T) {
	err := fmt.Errorf("%w: start date must precede end date", ErrValidation)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("errors.Is(%v, ErrValidation) = false", err)
	}
	if errors.Is(err, ErrDataIntegrity) {
		t.Errorf("errors.Is(%v, ErrDataIntegrity) = true", err)
	}
}
