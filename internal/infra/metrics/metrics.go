package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
)

// Collectors holds the engine and HTTP metrics. It implements
// application.Observer and provides the parser outcome hook.
type Collectors struct {
	Sessions           prometheus.Counter
	StateTransitions   *prometheus.CounterVec
	State              *prometheus.GaugeVec
	CommandsDispatched *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	ParserOutcomes     *prometheus.CounterVec
	WakeRestarts       *prometheus.CounterVec
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "kitchen_voice_sessions_total",
			Help: "Wake word activations that opened a command session",
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_state_transitions_total",
			Help: "Engine state transitions",
		}, []string{"from", "to"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kitchen_voice_state",
			Help: "1 for the engine's current state, 0 otherwise",
		}, []string{"state"}),
		CommandsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_commands_dispatched_total",
			Help: "Commands delivered to the host",
		}, []string{"action"}),
		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_commands_rejected_total",
			Help: "Sessions that ended without a dispatched command",
		}, []string{"reason"}),
		ParserOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_parser_outcomes_total",
			Help: "Parse attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		WakeRestarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_wake_restarts_total",
			Help: "Wake word detector restarts after a failure",
		}, []string{"backend"}),
		RequestCount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchen_voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "kitchen_voice_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		}, []string{"method", "endpoint"}),
	}
}

func (c *Collectors) StateChanged(from, to domain.EngineState) {
	c.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	c.State.WithLabelValues(from.String()).Set(0)
	c.State.WithLabelValues(to.String()).Set(1)
}

func (c *Collectors) SessionStarted(_ string) {
	c.Sessions.Inc()
}

func (c *Collectors) CommandDispatched(cmd domain.VoiceCommand) {
	c.CommandsDispatched.WithLabelValues(string(cmd.Action)).Inc()
}

func (c *Collectors) CommandRejected(reason string) {
	c.CommandsRejected.WithLabelValues(reason).Inc()
}

func (c *Collectors) WakeRestarted(backend string) {
	c.WakeRestarts.WithLabelValues(backend).Inc()
}

// ParserOutcome matches parser.WithOutcomeHook.
func (c *Collectors) ParserOutcome(strategy, outcome string) {
	c.ParserOutcomes.WithLabelValues(strategy, outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (c *Collectors) ObserveRequest(method, endpoint string, status int, seconds float64) {
	c.RequestCount.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

var _ application.Observer = (*Collectors)(nil)
