package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"zkusd/core/fixedpoint"
	"zkusd/core/protocol"
)

// sysClock provides wall-clock seconds to the core.
type sysClock struct{}

func (sysClock) Now() uint64 { return uint64(time.Now().Unix()) }

// devOracle holds the last injected attested price. Production deployments
// replace it with the oracle aggregator client; the core only sees the
// PriceOracle interface either way.
type devOracle struct {
	mu         sync.RWMutex
	price      *uint256.Int
	updatedAt  time.Time
	staleAfter time.Duration
}

func newDevOracle(staleAfter time.Duration) *devOracle {
	return &devOracle{staleAfter: staleAfter}
}

func (o *devOracle) Current() (*uint256.Int, uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil || time.Since(o.updatedAt) > o.staleAfter {
		return nil, 0, protocol.ErrStalePrice
	}
	return new(uint256.Int).Set(o.price), uint64(o.updatedAt.Unix()), nil
}

func (o *devOracle) set(price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = new(uint256.Int).Set(price)
	o.updatedAt = time.Now()
}

// priceHandler accepts a decimal BTC/USD price, e.g. PUT /admin/price?value=50000.
func priceHandler(oracle *devOracle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value := r.URL.Query().Get("value")
		price, err := fixedpoint.WadFromDecimal(value)
		if err != nil || price.IsZero() {
			http.Error(w, fmt.Sprintf("invalid price %q", value), http.StatusBadRequest)
			return
		}
		oracle.set(price)
		w.WriteHeader(http.StatusNoContent)
	}
}
