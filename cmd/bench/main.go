// Command bench runs a synthetic block workload against the cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/blockcache/bcache"
	"github.com/IvanBrykalov/blockcache/device"
	pmet "github.com/IvanBrykalov/blockcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		blocks   = flag.Int("blocks", 65_536, "device size (blocks)")
		capacity = flag.Int("cap", 4_096, "cache capacity (blocks)")
		latency  = flag.Duration("latency", 100*time.Microsecond, "simulated per-transfer device latency")
		throttle = flag.Float64("throttle", 0, "max device transfers per second (0 = unlimited)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "blockcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Cache over a simulated slow device ----
	dev := device.NewMemDevice(*blocks)
	dev.SetLatency(*latency)

	opt := bcache.Options{
		Capacity: *capacity,
		Metrics:  metrics,
	}
	if *throttle > 0 {
		opt.Throttle = rate.NewLimiter(rate.Limit(*throttle), 1)
	}
	c, err := bcache.New(dev, opt)
	if err != nil {
		log.Fatal(err)
	}

	// ---- Workload ----
	log.Printf("bench: %d workers, %s, %d%% reads, device %d blocks, cache %d blocks",
		*workers, *duration, *readPct, *blocks, *capacity)

	var ops atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(*workers)
	for w := 0; w < *workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(*seed + int64(id)*7919))
			buf := make([]byte, device.BlockSize)
			for {
				select {
				case <-stop:
					return
				default:
				}
				blk := r.Intn(*blocks)
				if r.Intn(100) < *readPct {
					if err := c.Read(blk, buf); err != nil {
						log.Fatalf("read %d: %v", blk, err)
					}
				} else {
					if err := c.Write(blk, buf); err != nil {
						log.Fatalf("write %d: %v", blk, err)
					}
				}
				ops.Add(1)
			}
		}(w)
	}

	start := time.Now()
	time.Sleep(*duration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	if err := c.Sync(); err != nil {
		log.Fatalf("final sync: %v", err)
	}
	if err := c.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}

	total := ops.Load()
	log.Printf("done: %d ops in %s (%.0f ops/s)", total, elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds())
	log.Printf("cache: reads=%d writes=%d resident=%d", c.Reads(), c.Writes(), c.Len())
	log.Printf("device: reads=%d writes=%d", dev.ReadCount(), dev.WriteCount())
}
