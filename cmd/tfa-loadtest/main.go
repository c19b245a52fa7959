package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	tfa "github.com/kvx-labs/tfa"
)

type seededUser struct {
	id         string
	login      string
	secret     []byte
	trustToken string
}

type staticDirectory struct {
	byLogin map[string]*tfa.UserIdentity
	byID    map[string]*tfa.UserIdentity
	secrets map[string][]byte
	mu      sync.RWMutex
}

func (d *staticDirectory) ResolveByUsername(_ context.Context, username string) (*tfa.UserIdentity, error) {
	if u, ok := d.byLogin[username]; ok {
		return u, nil
	}
	return nil, tfa.ErrIdentityNotFound
}

func (d *staticDirectory) ResolveByEmail(_ context.Context, email string) (*tfa.UserIdentity, error) {
	if u, ok := d.byLogin[email]; ok {
		return u, nil
	}
	return nil, tfa.ErrIdentityNotFound
}

func (d *staticDirectory) ResolveByID(_ context.Context, id string) (*tfa.UserIdentity, error) {
	if u, ok := d.byID[id]; ok {
		return u, nil
	}
	return nil, tfa.ErrIdentityNotFound
}

func (d *staticDirectory) SecondFactorState(_ context.Context, userID string) (*tfa.SecondFactorState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return &tfa.SecondFactorState{Enabled: true, Secret: d.secrets[userID]}, nil
}

func (d *staticDirectory) SaveSecondFactorSecret(_ context.Context, userID string, secret []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.secrets[userID] = secret
	return nil
}

func (d *staticDirectory) SetSecondFactorEnabled(context.Context, string, bool) error {
	return nil
}

func main() {
	var (
		users       = flag.Int("users", 50000, "number of users to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (code + trust)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	directory := &staticDirectory{
		byLogin: make(map[string]*tfa.UserIdentity, *users),
		byID:    make(map[string]*tfa.UserIdentity, *users),
		secrets: make(map[string][]byte, *users),
	}

	cfg := tfa.DefaultConfig()
	provider := tfa.NewTOTPProvider(cfg.TOTP, directory)

	policies := tfa.NewRedisPolicyStore(client, cfg.Trust.RedisPrefix)
	if err := policies.SetFlag(ctx, cfg.Policy.KeyPrefix+"member", true); err != nil {
		fmt.Fprintf(os.Stderr, "seed policy failed: %v\n", err)
		os.Exit(1)
	}
	if err := policies.SetFlag(ctx, cfg.Policy.KeyPrefix+"trusted_member", true); err != nil {
		fmt.Fprintf(os.Stderr, "seed policy failed: %v\n", err)
		os.Exit(1)
	}

	engine, err := tfa.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserDirectory(directory).
		WithPolicyStore(policies).
		WithSecondFactorProvider(provider).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]seededUser, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		id := "u" + strconv.Itoa(i)
		login := "user" + strconv.Itoa(i)
		directory.byLogin[login] = &tfa.UserIdentity{
			ID:           id,
			Roles:        []string{"member"},
			RegisteredAt: time.Now().Add(-90 * 24 * time.Hour),
		}
		directory.byID[id] = directory.byLogin[login]

		secret, err := provider.ProvisionSecret(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "provision secret failed: %v\n", err)
			os.Exit(1)
		}

		token, err := engine.TrustDevice(ctx, id, 7)
		if err != nil {
			fmt.Fprintf(os.Stderr, "trust grant failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = seededUser{id: id, login: login, secret: secret, trustToken: token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	codeStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		u := states[r.Intn(len(states))]
		code, err := provider.Generate(u.secret, time.Now())
		if err != nil {
			return err
		}
		verdict, err := engine.Decide(ctx, tfa.DecideRequest{Login: u.login, Code: code})
		if err != nil {
			return err
		}
		if !verdict.Allowed {
			return fmt.Errorf("denied: %s", verdict.Reason)
		}
		return nil
	})

	trustStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		u := states[r.Intn(len(states))]
		verdict, err := engine.Decide(ctx, tfa.DecideRequest{Login: u.login, TrustToken: u.trustToken})
		if err != nil {
			return err
		}
		if !verdict.Allowed {
			return fmt.Errorf("denied: %s", verdict.Reason)
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("code", codeStats)
	printStats("trust", trustStats)
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
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
