package v1

import "time"

type AiClockClient struct {
	Transport *Transport
	Events    *EventEndpoint
}

// NewAiClockClient initializes the ingestion API client
func NewAiClockClient(baseURL string, token string, timeout time.Duration) *AiClockClient {
	t := NewTransport(baseURL, token, timeout)
	return &AiClockClient{
		Transport: t,
		Events:    &EventEndpoint{transport: t},
	}
}
