package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credsync"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals to seed")
		tenants     = flag.Int("tenants", 8, "number of tenants the principals are spread over")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (load, save, login)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "cs", "remote key prefix")
		verbose     = flag.Bool("v", false, "log engine warnings to stderr")
	)
	flag.Parse()

	if *principals <= 0 || *tenants <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, tenants, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client, *prefix, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ids := make([]credsync.Principal, *principals)
	fmt.Printf("seeding %d principals over %d tenants...\n", *principals, *tenants)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = credsync.Principal{
			Tenant: credsync.TenantID("tenant-" + strconv.Itoa(i%*tenants)),
			ID:     credsync.PrincipalID("p-" + strconv.Itoa(i)),
		}
		if _, err := engine.Save(ctx, ids[i], credsync.KindCredential, fieldsFor(i, 0)); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	loadStats := runPhase(*ops, *concurrency, 7919, func(r *mrand.Rand, i int) error {
		res, err := engine.Load(ctx, ids[r.Intn(len(ids))], credsync.KindCredential)
		if err == nil && !res.Found() {
			return errors.New("record missing")
		}
		return err
	})
	saveStats := runPhase(*ops, *concurrency, 6151, func(r *mrand.Rand, i int) error {
		res, err := engine.Save(ctx, ids[r.Intn(len(ids))], credsync.KindCredential, fieldsFor(i, i))
		if err == nil && res.Status != credsync.StatusSynced {
			return fmt.Errorf("save %s", res.Status)
		}
		return err
	})
	loginStats := runPhase(*ops, *concurrency, 4099, func(r *mrand.Rand, i int) error {
		p := ids[r.Intn(len(ids))]
		tok, _, err := engine.CompleteLogin(ctx, p)
		if err != nil {
			return err
		}
		_, _, err = engine.Bootstrap(ctx, tok.Value)
		return err
	})

	fmt.Println("---- results ----")
	printStats("load", loadStats)
	printStats("save", saveStats)
	printStats("login+bootstrap", loginStats)
	fmt.Printf("contamination dropped: %d\n", engine.ContaminationCount())
}

func buildEngine(client redis.UniversalClient, prefix string, verbose bool) (*credsync.Engine, error) {
	cfg := credsync.DefaultConfig()
	cfg.Sync.KeyPrefix = prefix
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	cfg.Session.PrivateKey = priv
	cfg.Session.PublicKey = pub

	logger := zap.NewNop()
	if verbose {
		logger, err = zap.NewProduction(zap.IncreaseLevel(zap.WarnLevel))
		if err != nil {
			return nil, err
		}
	}

	return credsync.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithRedisRemote(client).
		Build()
}

func fieldsFor(i, gen int) map[string]string {
	return map[string]string{
		"api_key": "key-" + strconv.Itoa(i) + "-" + strconv.Itoa(gen),
	}
}

// runPhase spreads ops calls of fn over concurrency workers.
func runPhase(ops, concurrency int, seed int64, fn func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
