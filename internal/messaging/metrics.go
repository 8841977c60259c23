package messaging

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    eventsPublished = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "messaging_events_published_total",
            Help: "Events published on the router channel",
        },
        []string{"event"},
    )

    eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
        Name: "messaging_events_delivered_total",
        Help: "Routed events handed to a local socket",
    })

    eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
        Name: "messaging_events_dropped_total",
        Help: "Routed events with no local socket or a bad envelope",
    })

    inboundEvents = promauto.NewCounterVec(
        prometheus.CounterOpts{
            Name: "messaging_inbound_events_total",
            Help: "Socket events received, by type and result",
        },
        []string{"type", "result"},
    )

    activeSockets = promauto.NewGauge(prometheus.GaugeOpts{
        Name: "gateway_active_sockets",
        Help: "Websockets held by this instance",
    })
)

func RecordPublished(event string) {
    eventsPublished.WithLabelValues(event).Inc()
}

func RecordDelivered() {
    eventsDelivered.Inc()
}

func RecordDropped() {
    eventsDropped.Inc()
}

func RecordInbound(eventType, result string) {
    inboundEvents.WithLabelValues(eventType, result).Inc()
}
