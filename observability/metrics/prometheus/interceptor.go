package prometheus

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"typedrpc/rpc"
	"typedrpc/rpc/message"
)

const statusOK = "OK"

// InterceptorBuilder builds an rpc.Interceptor that records per procedure
// latency, errors and in-flight calls. The same builder works for clients
// and servers; Kind tells them apart in the const labels.
type InterceptorBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string

	// Kind is "client" or "server".
	Kind string
	// Address is an optional const label, such as the listening address.
	Address string
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	summaryVec *prometheus.SummaryVec
	errCntVec  *prometheus.CounterVec
	activeVec  *prometheus.GaugeVec
}

// Build registers the collectors and panics if that fails, as
// prometheus.MustRegister does.
func (b *InterceptorBuilder) Build() rpc.Interceptor {
	labels := map[string]string{"kind": b.Kind}
	if b.Address != "" {
		labels["address"] = b.Address
	}
	b.summaryVec = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_response",
		Help:        b.Help,
		ConstLabels: labels,
		Objectives: map[float64]float64{
			0.5:   0.01,
			0.75:  0.01,
			0.9:   0.01,
			0.99:  0.001,
			0.999: 0.0001,
		},
	}, []string{"service", "procedure", "status"})
	b.errCntVec = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_error_cnt",
		Help:        b.Help,
		ConstLabels: labels,
	}, []string{"service", "procedure", "status"})
	b.activeVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_active_req_cnt",
		Help:        b.Help,
		ConstLabels: labels,
	}, []string{"service", "procedure"})

	reg := b.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(b.summaryVec, b.errCntVec, b.activeVec)

	return func(next rpc.Proxy) rpc.Proxy {
		return rpc.ProxyFunc(func(ctx context.Context, req *message.Request) (resp *message.Response, err error) {
			active := b.activeVec.WithLabelValues(req.Service, req.Procedure)
			active.Inc()
			startTime := time.Now()
			defer func() {
				active.Dec()
				status := statusOf(resp, err)
				if status != statusOK {
					b.errCntVec.WithLabelValues(req.Service, req.Procedure, status).Inc()
				}
				duration := float64(time.Since(startTime).Milliseconds())
				b.summaryVec.WithLabelValues(req.Service, req.Procedure, status).Observe(duration)
			}()
			resp, err = next.Invoke(ctx, req)
			return
		})
	}
}

// statusOf names the outcome of a call: OK, the remote error name, or
// TransportError when no response came back.
func statusOf(resp *message.Response, err error) string {
	if err != nil || resp == nil {
		return "TransportError"
	}
	if len(resp.Error) == 0 {
		return statusOK
	}
	e, err := message.DecodeError(resp.Error)
	if err != nil || e.Name == "" {
		return "RemoteError"
	}
	return e.Name
}
