package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ksx/rdtfile/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges for the transfer protocol.
var (
	FragmentsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_fragments_sent_total",
		Help: "Total data fragments emitted during BULK (retransmissions are counted by rdt_fragments_retransmitted_total).",
	})
	FragmentsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_fragments_received_total",
		Help: "Total data frames received that passed checksum validation (duplicates included).",
	})
	FragmentsRetransmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_fragments_retransmitted_total",
		Help: "Total fragments resent in response to a MISSING request.",
	})
	ChecksumFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_checksum_failures_total",
		Help: "Total frames discarded for failing checksum validation.",
	})
	RepairRounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_repair_rounds_total",
		Help: "Total REPAIR loop iterations across all sessions.",
	})
	OutOfRangeEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_out_of_range_total",
		Help: "Total OUT_OF_RANGE responses sent by senders or received by receivers.",
	})
	SyncAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_sync_attempts_total",
		Help: "Total SYNC rounds attempted by senders.",
	})
	SessionsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdt_sessions_succeeded_total",
		Help: "Total sessions that completed successfully, by role.",
	}, []string{"role"})
	SessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdt_sessions_failed_total",
		Help: "Total sessions that ended in a terminal failure, by role and reason.",
	}, []string{"role", "reason"})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_bytes_sent_total",
		Help: "Total framed bytes (checksum, id and payload) of data fragments produced during BULK.",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdt_bytes_received_total",
		Help: "Total framed bytes of data frames decoded during BULK (duplicates included).",
	})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rdt_active_sessions",
		Help: "Current number of sessions in progress.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Reason label constants for SessionsFailed (stable values to bound cardinality).
const (
	ReasonSyncFailure       = "sync_failure"
	ReasonUnreachable       = "unreachable"
	ReasonProtocolViolation = "protocol_violation"
	ReasonCipherMisuse      = "cipher_misuse"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging (avoid scraping Prometheus internally).
var (
	localFragmentsSent    uint64
	localFragmentsRecv    uint64
	localRetransmits      uint64
	localChecksumFailures uint64
	localRepairRounds     uint64
	localSessionsOK       uint64
	localSessionsFail     uint64
	localBytesSent        uint64
	localBytesRecv        uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FragmentsSent    uint64
	FragmentsRecv    uint64
	Retransmits      uint64
	ChecksumFailures uint64
	RepairRounds     uint64
	SessionsOK       uint64
	SessionsFail     uint64
	BytesSent        uint64
	BytesRecv        uint64
}

func Snap() Snapshot {
	return Snapshot{
		FragmentsSent:    atomic.LoadUint64(&localFragmentsSent),
		FragmentsRecv:    atomic.LoadUint64(&localFragmentsRecv),
		Retransmits:      atomic.LoadUint64(&localRetransmits),
		ChecksumFailures: atomic.LoadUint64(&localChecksumFailures),
		RepairRounds:     atomic.LoadUint64(&localRepairRounds),
		SessionsOK:       atomic.LoadUint64(&localSessionsOK),
		SessionsFail:     atomic.LoadUint64(&localSessionsFail),
		BytesSent:        atomic.LoadUint64(&localBytesSent),
		BytesRecv:        atomic.LoadUint64(&localBytesRecv),
	}
}

func IncFragmentsSent() {
	FragmentsSent.Inc()
	atomic.AddUint64(&localFragmentsSent, 1)
}

func IncFragmentsReceived() {
	FragmentsReceived.Inc()
	atomic.AddUint64(&localFragmentsRecv, 1)
}

func IncFragmentsRetransmitted() {
	FragmentsRetransmitted.Inc()
	atomic.AddUint64(&localRetransmits, 1)
}

func IncChecksumFailure() {
	ChecksumFailures.Inc()
	atomic.AddUint64(&localChecksumFailures, 1)
}

func IncRepairRound() {
	RepairRounds.Inc()
	atomic.AddUint64(&localRepairRounds, 1)
}

func IncOutOfRange() {
	OutOfRangeEvents.Inc()
}

func IncSyncAttempt() {
	SyncAttempts.Inc()
}

func IncSessionSucceeded(role string) {
	SessionsSucceeded.WithLabelValues(role).Inc()
	atomic.AddUint64(&localSessionsOK, 1)
}

func IncSessionFailed(role, reason string) {
	SessionsFailed.WithLabelValues(role, reason).Inc()
	atomic.AddUint64(&localSessionsFail, 1)
}

func AddBytesSent(n int64) {
	BytesSent.Add(float64(n))
	atomic.AddUint64(&localBytesSent, uint64(n))
}

func AddBytesReceived(n int64) {
	BytesReceived.Add(float64(n))
	atomic.AddUint64(&localBytesRecv, uint64(n))
}

func SetActiveSessions(n int) { ActiveSessions.Set(float64(n)) }

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
