package watch

// Event topics published by the watch engine. Alert and report sinks
// subscribe to these; the engine never formats or sends notifications.
const (
	TopicAnomalyDetected = "watch.anomaly.detected" // Payload: timeseries.Anomaly
	TopicForecastReady   = "watch.forecast.ready"   // Payload: []timeseries.Forecast
	TopicEvaluationReady = "watch.evaluation.ready" // Payload: []timeseries.EvaluationRecord
	TopicRunCompleted    = "watch.run.completed"    // Payload: timeseries.RunSummary
)
