package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jinford/kb-rag/internal/core/eval"
	"github.com/jinford/kb-rag/internal/core/generation"
	"github.com/jinford/kb-rag/internal/core/ingestion"
	"github.com/jinford/kb-rag/internal/core/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kb_rag"

// Metrics は各コアサービスの Observer を実装する Prometheus コレクタ群
type Metrics struct {
	gatherer prometheus.Gatherer

	IngestionsTotal    *prometheus.CounterVec
	ChunksWrittenTotal prometheus.Counter
	RetrievalDuration  prometheus.Histogram
	RetrievalResults   prometheus.Histogram
	StreamsTotal       *prometheus.CounterVec
	StreamTokens       prometheus.Histogram
	EvalCasesTotal     *prometheus.CounterVec
	EvalJudgeFailures  prometheus.Counter
	EvalJudgeScore     prometheus.Histogram
}

// New は reg にコレクタを登録した Metrics を作成する
// reg が nil の場合は新しいレジストリを使う
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		IngestionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Total number of document ingestions by final status",
		}, []string{"status"}),
		ChunksWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Total number of chunks persisted by successful ingestions",
		}),
		RetrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of vector store retrieval",
			Buckets:   prometheus.DefBuckets,
		}),
		RetrievalResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of chunks returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_streams_total",
			Help:      "Total number of generation streams by terminal state",
		}, []string{"state"}),
		StreamTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_stream_tokens",
			Help:      "Number of tokens forwarded per generation stream",
			Buckets:   prometheus.ExponentialBuckets(8, 2, 10),
		}),
		EvalCasesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_cases_total",
			Help:      "Total number of evaluated cases by recall outcome",
		}, []string{"recall_hit"}),
		EvalJudgeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_judge_failures_total",
			Help:      "Total number of judge calls that failed or returned unparseable output",
		}),
		EvalJudgeScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eval_judge_score",
			Help:      "Distribution of judge scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// Handler は /metrics 用の HTTP ハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveIngestion はインデックス処理の結果を記録する
func (m *Metrics) ObserveIngestion(status ingestion.Status, chunks int) {
	m.IngestionsTotal.WithLabelValues(string(status)).Inc()
	if status == ingestion.StatusIndexed {
		m.ChunksWrittenTotal.Add(float64(chunks))
	}
}

// ObserveRetrieval は検索の所要時間と件数を記録する
func (m *Metrics) ObserveRetrieval(duration time.Duration, results int) {
	m.RetrievalDuration.Observe(duration.Seconds())
	m.RetrievalResults.Observe(float64(results))
}

// ObserveStream は生成ストリームの終了状態を記録する
func (m *Metrics) ObserveStream(state generation.State, tokens int) {
	m.StreamsTotal.WithLabelValues(state.String()).Inc()
	m.StreamTokens.Observe(float64(tokens))
}

// ObserveEvalCase は評価ケースの結果を記録する
func (m *Metrics) ObserveEvalCase(recallHit bool, score float64, judgeFailed bool) {
	m.EvalCasesTotal.WithLabelValues(strconv.FormatBool(recallHit)).Inc()
	if judgeFailed {
		m.EvalJudgeFailures.Inc()
		return
	}
	m.EvalJudgeScore.Observe(score)
}

var (
	_ ingestion.Observer  = (*Metrics)(nil)
	_ retrieval.Observer  = (*Metrics)(nil)
	_ generation.Observer = (*Metrics)(nil)
	_ eval.Observer       = (*Metrics)(nil)
)
