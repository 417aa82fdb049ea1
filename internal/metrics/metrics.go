package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of persisted chat messages, by message type",
	}, []string{"type"})
	MessagesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_read_total",
		Help: "Total number of messages transitioned to read",
	})
	ConversationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_conversations_created_total",
		Help: "Total number of conversations created, by kind",
	}, []string{"kind"})
	SummaryPushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_summary_pushes_total",
		Help: "Total number of conversation:upsert events pushed",
	})
	WsEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_ws_events_total",
		Help: "Inbound websocket events, by event type and result",
	}, []string{"type", "result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, MessagesSent, MessagesRead, ConversationsCreated, SummaryPushes, WsEvents, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		// 未匹配路由统一归类，避免任意 URL 撑爆标签基数。
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
