package feed

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"bitcoin-tx-monitor/internal/domain/entity"
)

const (
	syntheticBlockEvery = 120
	syntheticStartTip   = 850_000
)

// SyntheticGenerator produces plausible transaction and block frames for
// environments without upstream access. The output is fully determined by the seed.
type SyntheticGenerator struct {
	mu     sync.Mutex
	rng    *rand.Rand
	frames int
	height int64
	now    func() time.Time
}

// NewSyntheticGenerator creates a new generator
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticGenerator{
		rng:    rand.New(rand.NewSource(seed)),
		height: syntheticStartTip,
		now:    time.Now,
	}
}

// Next returns the next encoded frame: mostly transactions, with a block
// every syntheticBlockEvery frames
func (g *SyntheticGenerator) Next() ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.frames++
	if g.frames%syntheticBlockEvery == 0 {
		return Encode(OpBlock, g.block())
	}
	return Encode(OpTransaction, g.transaction())
}

func (g *SyntheticGenerator) transaction() *entity.RawTransaction {
	inputs := 1 + g.rng.Intn(3)
	outputs := 1 + g.rng.Intn(3)
	switch g.rng.Intn(50) {
	case 0:
		inputs = 21 + g.rng.Intn(20) // consolidation
	case 1:
		outputs = 51 + g.rng.Intn(40) // batch payout
	}

	tx := &entity.RawTransaction{
		Hash:   g.hex(32),
		Inputs: make([]entity.TxInput, inputs),
		Out:    make([]entity.TxOutput, outputs),
		Time:   g.now().Unix(),
	}

	var total int64
	for i := range tx.Out {
		value := g.amount()
		tx.Out[i] = entity.TxOutput{Value: value, Addr: "bc1q" + g.hex(20)}
		total += value
	}
	for i := range tx.Inputs {
		tx.Inputs[i] = entity.TxInput{PrevOut: &entity.PrevOut{
			Addr:  "bc1q" + g.hex(20),
			Value: total / int64(inputs),
		}}
	}

	tx.Size = int64(10 + inputs*148 + outputs*34)
	feeRate := int64(1 + g.rng.Intn(40))
	if g.rng.Intn(20) == 0 {
		feeRate = 0
	}
	tx.Fee = feeRate * tx.Size
	return tx
}

// amount picks an output value: mostly small, occasionally whole coins or whale sized
func (g *SyntheticGenerator) amount() int64 {
	switch n := g.rng.Intn(100); {
	case n == 0:
		return entity.Coins(100 + g.rng.Int63n(900))
	case n < 5:
		return entity.Coins(1 + g.rng.Int63n(20))
	case n < 15:
		return g.rng.Int63n(entity.Coins(50))
	default:
		return 1000 + g.rng.Int63n(entity.Coins(1)/10)
	}
}

func (g *SyntheticGenerator) block() *entity.Block {
	g.height++
	return &entity.Block{
		Height: g.height,
		Hash:   "00000000" + g.hex(28),
		Time:   g.now().Unix(),
		NTx:    int64(1000 + g.rng.Intn(4000)),
		Size:   int64(1_000_000 + g.rng.Intn(1_500_000)),
	}
}

func (g *SyntheticGenerator) hex(n int) string {
	b := make([]byte, n)
	g.rng.Read(b)
	return hex.EncodeToString(b)
}

// SyntheticSource emits generated frames at a fixed interval
type SyntheticSource struct {
	generator *SyntheticGenerator
	interval  time.Duration
}

// NewSyntheticSource creates a new synthetic source
func NewSyntheticSource(generator *SyntheticGenerator, interval time.Duration) *SyntheticSource {
	return &SyntheticSource{generator: generator, interval: interval}
}

// Name returns the source kind
func (s *SyntheticSource) Name() string {
	return "synthetic"
}

// Open starts a new generated session
func (s *SyntheticSource) Open(ctx context.Context) (Stream, error) {
	if s.interval <= 0 {
		return nil, fmt.Errorf("invalid synthetic interval %s", s.interval)
	}
	return &syntheticStream{
		generator: s.generator,
		ticker:    time.NewTicker(s.interval),
	}, nil
}

type syntheticStream struct {
	generator *SyntheticGenerator
	ticker    *time.Ticker
}

func (s *syntheticStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
		return s.generator.Next()
	}
}

func (s *syntheticStream) Close() error {
	s.ticker.Stop()
	return nil
}
